package domain

// FieldAction says what to do with an optional field during an update.
type FieldAction int

const (
	// FieldUnchanged leaves the stored value as is.
	FieldUnchanged FieldAction = iota
	// FieldSet replaces the stored value.
	FieldSet
	// FieldRemove deletes the stored value.
	FieldRemove
)

// OptionalString is a tri-state update item for a string field: unchanged,
// set to a value, or removed.
type OptionalString struct {
	Action FieldAction
	Value  string
}

// SetField returns an item that sets the field to the given value.
func SetField(value string) OptionalString {
	return OptionalString{Action: FieldSet, Value: value}
}

// RemoveField returns an item that removes the field.
func RemoveField() OptionalString {
	return OptionalString{Action: FieldRemove}
}

// GroupUpdateParams is a diff against a stored group. Only fields with an
// action are applied; updates that would not change the stored value are
// no-ops and do not bump the modification time.
type GroupUpdateParams struct {
	GroupID      string
	Name         OptionalString
	Description  OptionalString
	CustomFields map[string]OptionalString
}

// HasUpdate returns true if any field carries an action.
func (p *GroupUpdateParams) HasUpdate() bool {
	if p.Name.Action != FieldUnchanged || p.Description.Action != FieldUnchanged {
		return true
	}
	for _, item := range p.CustomFields {
		if item.Action != FieldUnchanged {
			return true
		}
	}
	return false
}

// Validate checks the update parameters. The group name is mandatory on a
// group and so cannot be removed.
func (p *GroupUpdateParams) Validate() error {
	if p.GroupID == "" {
		return ErrValidation("group id is required")
	}
	if p.Name.Action == FieldRemove {
		return ErrValidation("the group name cannot be removed")
	}
	if p.Name.Action == FieldSet && p.Name.Value == "" {
		return ErrValidation("the group name cannot be set to the empty string")
	}
	for field := range p.CustomFields {
		if field == "" {
			return ErrValidation("custom field names cannot be empty")
		}
	}
	return nil
}
