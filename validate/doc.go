// Package validate checks cross-service call arguments against the
// parameter schemas declared by the target functions.
//
// The outbox consults a Validator before persisting a message, so that a
// malformed call never reaches the store. Registry is the declarative
// default implementation:
//
//	r := validate.NewRegistry()
//	err := r.Register("billing", "createInvoice",
//		validate.Param{Name: "orderId", Kind: validate.KindInteger, Required: true},
//		validate.Param{Name: "email", Kind: validate.KindString, Format: "email"},
//	)
//	reasons := r.ValidateArgument(ctx, validate.Target{Service: "billing", Function: "createInvoice"}, arg)
package validate
