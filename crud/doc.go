// Package crud implements the service operations of one entity type on top
// of the query compiler, the result materializer and the transaction
// manager.
//
// Every operation returns a strata.Result and never panics past its
// boundary:
//
//	svc, err := crud.New(registry, "Order", manager)
//	if err != nil {
//		return err
//	}
//	res := svc.GetEntitiesByIDs(ctx, []string{"1", "2"}, nil)
//	orders, err := res.Unwrap()
//
// Reads run on the transaction of the call chain, if any, and then lock the
// rows they return. Writes own a local transaction unless the chain is
// already in one. Several operations are composed into one transaction with
// RunInTransaction:
//
//	res := crud.RunInTransaction(ctx, manager, func(ctx context.Context) (string, error) {
//		id, err := orders.CreateEntity(ctx, values).Unwrap()
//		if err != nil {
//			return "", err
//		}
//		_, err = coordinator.SendWithinTransaction(ctx, "orders/billing.createInvoice", map[string]any{"orderId": id})
//		return id, err
//	})
package crud
