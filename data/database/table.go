package database

import (
	"go.mongodb.org/mongo-driver/mongo"

	"PShop/tools/errs"
)

type Table interface {
	GetTableName() string
	Collection() (*mongo.Collection, error)
}

// DBGetter hands out the current database; implemented by the mongo manager,
// whose client may be replaced after a reconnect.
type DBGetter interface {
	TryGetDB() (*mongo.Database, bool)
}

// StaticDB wraps a database that never changes.
type StaticDB struct{ DB *mongo.Database }

func (s StaticDB) TryGetDB() (*mongo.Database, bool) { return s.DB, s.DB != nil }

// Collection resolves name on the current database.
func Collection(g DBGetter, name string) (*mongo.Collection, error) {
	if g == nil {
		return nil, errs.ErrUnavailable.WrapMsg("mongo not configured")
	}
	db, ok := g.TryGetDB()
	if !ok {
		return nil, errs.ErrUnavailable.WrapMsg("mongo not ready", "collection", name)
	}
	return db.Collection(name), nil
}
