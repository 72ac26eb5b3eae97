package repository

import (
	"strings"

	"go.mongodb.org/mongo-driver/mongo"

	"grouphub/internal/domain"
)

// isDuplicateOn reports whether err is a duplicate-key error on the named
// single-field unique index. Mongo does not expose the violated index in a
// structured way, so this matches the default index name in the message.
func isDuplicateOn(err error, field string) bool {
	return mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), field+"_1")
}

func wrapMongoError(err error) error {
	return domain.ErrUnavailable(err, "connection to database failed")
}
