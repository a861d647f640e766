// Package pg wires PostgreSQL for keytier: Connect opens a pgx/v5 pool with
// retries, Migrate runs goose migrations from an fs.FS against that pool,
// Healthcheck feeds the readiness endpoint, and the Is*Error helpers classify
// driver errors for the stores built on top.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//	if _, err := pg.Migrate(ctx, pool, credential.Migrations, cfg, log); err != nil {
//	    return err
//	}
package pg
