package plugin

import "context"

// DatabaseName is the bridge name of the database plugin.
const DatabaseName = "AbsDatabase"

// ItemStore is the key/value storage behind the database plugin. *store.DB implements it.
type ItemStore interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
	Keys() ([]string, error)
}

// Database exposes key/value storage to the UI.
type Database struct {
	store ItemStore
}

// NewDatabase creates the database plugin.
func NewDatabase(store ItemStore) *Database {
	return &Database{store: store}
}

// Name implements Plugin.
func (d *Database) Name() string { return DatabaseName }

// Load implements Plugin.
func (d *Database) Load(Host) error { return nil }

// Invoke implements Plugin.
func (d *Database) Invoke(ctx context.Context, method string, args map[string]any) (any, error) {
	switch method {
	case "getItem":
		key, err := stringArg(args, "key")
		if err != nil {
			return nil, err
		}
		v, ok, err := d.store.GetItem(key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return map[string]any{"value": nil}, nil
		}
		return map[string]any{"value": v}, nil

	case "setItem":
		key, err := stringArg(args, "key")
		if err != nil {
			return nil, err
		}
		value, err := stringArg(args, "value")
		if err != nil {
			return nil, err
		}
		return nil, d.store.SetItem(key, value)

	case "removeItem":
		key, err := stringArg(args, "key")
		if err != nil {
			return nil, err
		}
		return nil, d.store.RemoveItem(key)

	case "getKeys":
		keys, err := d.store.Keys()
		if err != nil {
			return nil, err
		}
		if keys == nil {
			keys = []string{}
		}
		return map[string]any{"keys": keys}, nil

	default:
		return nil, unknownMethod(DatabaseName, method)
	}
}
