// Package docindex is an embedded document database with incremental
// map/reduce indexes.
//
// A [DB] stores documents, maintains named indexes derived from them in the
// background, and answers range, equality and token-match queries over the
// indexed fields. Every write advances a global generation; every index
// records the last generation it has processed, so a query can tell whether
// its answer reflects the latest writes and can wait until it does.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                              DB                              │
//	│  Put/Delete ──▶ store (memory | SQLite) ──▶ change feed       │
//	│                                               │              │
//	│                           ┌───────────────────▼──────────┐   │
//	│                           │ engine: one queue per index, │   │
//	│                           │ shared worker pool, map,     │   │
//	│                           │ reduce, immutable snapshots  │   │
//	│                           └───────────────────┬──────────┘   │
//	│  Query ◀── executor (filter, sort, page, LRU) ◀┘             │
//	└──────────────────────────────────────────────────────────────┘
//
// # Usage
//
//	db, err := docindex.Open(ctx, dir)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	_, err = db.DefineIndex(ctx, &docindex.Definition{
//	    Name:   "UsersByName",
//	    Fields: []docindex.Field{{Name: "Name"}, {Name: "Age", Kind: docindex.FieldNumber}},
//	    Maps: []docindex.Map{{
//	        Entity: "Users",
//	        Mapper: docindex.MapFunc(func(doc *docindex.Document) ([]docindex.Draft, error) {
//	            return []docindex.Draft{{Fields: doc.Payload}}, nil
//	        }),
//	    }},
//	})
//
//	gen, _ := db.Put(ctx, &docindex.Document{Entity: "Users", Payload: map[string]any{"Name": "ada", "Age": 36}})
//	res, err := db.Query(ctx, docindex.Query{
//	    Index:     "UsersByName",
//	    Where:     []docindex.Clause{docindex.Where("Age", docindex.OpGte, 30)},
//	    OrderBy:   []docindex.Order{docindex.Desc("Age")},
//	    Staleness: docindex.WaitFor(gen, 5*time.Second),
//	})
//
// Indexes can also be declared in the project configuration
// (.docindex.yaml); they are defined when the database opens.
//
// # Thread Safety
//
// A DB is safe for concurrent use. Queries read immutable snapshots and
// never block writers or indexing.
package docindex
