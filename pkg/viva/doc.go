// Package viva ties the spec stores, registries, materializer and journal together.
//
// A Context is opened from a config.Config. Environment specs live in <ConfigDir>/envs.yaml and
// <ConfigDir>/envs/<id>.<ext>, app specs in the same layout under "apps". Environments are
// materialized below <DataDir>/envs/<id>.
//
//	ctx := context.Background()
//	vc, err := viva.New(ctx, viva.Options{Config: cfg})
//	if err != nil {
//		return err
//	}
//	defer vc.Close(ctx)
//
//	if _, err := vc.MergeAllApps(ctx); err != nil {
//		return err
//	}
//	_, err = vc.SyncEnvs(ctx)
package viva
