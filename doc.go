// Package connpool provides safe, concurrent access to blocking,
// non-reentrant native database connections. A connection is only ever used
// by the holder of the guard it was checked out with, and the guard returns
// it to the pool, or closes it, exactly once.
//
// SQLite (modernc.org/sqlite, no cgo) is the default engine. PostgreSQL is
// available through pgx.
//
// Synchronous usage:
//
//	cfg := connpool.DefaultConfig()
//	cfg.Path = "app.db"
//
//	pool, err := connpool.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer pool.Close()
//
//	guard, err := pool.Checkout(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer guard.Release()
//
//	rows, err := guard.Query("SELECT id, name FROM users WHERE id = ?", 1)
//	if err != nil {
//		log.Fatal(err)
//	}
//	for row := range rows.All() {
//		name, _ := connpool.GetByName[string](row, "name")
//		fmt.Println(name)
//	}
//
// Context-driven usage:
//
// AsyncPool dispatches every blocking call to a bounded set of workers and
// waits for it with the caller's context, so a cancelled caller never blocks
// on a pool wait or a slow statement.
//
//	apool, err := connpool.NewAsync(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer apool.Close(context.Background())
//
//	err = apool.WithTx(ctx, func(tx *connpool.Tx) error {
//		if err := tx.Execute("INSERT INTO users (name) VALUES (?)", "alice"); err != nil {
//			return err
//		}
//		return tx.Execute("INSERT INTO audit (event) VALUES (?)", "user created")
//	})
//
// Errors are *Error values classified by ErrorKind. IsRecoverable tells
// whether retrying the operation can succeed.
package connpool
