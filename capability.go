package strata

// CrudService is implemented by services that expose the standard
// create/get/update/delete operations for one entity type. Components check
// for the capability with a type assertion instead of inspecting the
// concrete service type.
type CrudService interface {
	// EntityType returns the name of the entity type the service manages.
	EntityType() string
}

// IsCrudService reports whether svc carries the CrudService capability.
func IsCrudService(svc any) bool {
	_, ok := svc.(CrudService)
	return ok
}
