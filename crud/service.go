package crud

import (
	"context"
	"errors"
	"fmt"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/log"
	"github.com/syssam/strata/materialize"
	"github.com/syssam/strata/query"
	"github.com/syssam/strata/schema"
	"github.com/syssam/strata/txn"
)

// ErrManagerRequired is returned by New without a transaction manager.
var ErrManagerRequired = errors.New("crud: transaction manager is required")

// Service runs the operations of one entity type. It is safe for
// concurrent use; every call chain carries its own transaction state in
// its context.
type Service struct {
	entity   *schema.Entity
	adapter  dialect.Adapter
	compiler *query.Compiler
	manager  *txn.Manager
	logger   log.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger of the service.
func WithLogger(l log.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// New returns the service of the named entity type. Statements run on the
// adapter of the manager.
func New(r *schema.Registry, entityType string, m *txn.Manager, opts ...Option) (*Service, error) {
	if m == nil {
		return nil, ErrManagerRequired
	}
	e, err := r.Resolve(entityType)
	if err != nil {
		return nil, err
	}
	s := &Service{
		entity:   e,
		adapter:  m.Adapter(),
		compiler: query.NewCompiler(m.Adapter()),
		manager:  m,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.OrNop(s.logger).With(log.String("entity", e.Name()))
	return s, nil
}

// EntityType returns the entity type of the service. It makes every
// Service a strata.CrudService.
func (s *Service) EntityType() string {
	return s.entity.Name()
}

// Entity returns the schema of the entity type.
func (s *Service) Entity() *schema.Entity {
	return s.entity
}

// GetEntitiesByIDs returns the entities with the given ids. On numeric keys
// a non-numeric id fails the call before any statement runs. A fetch
// matching no row fails with ENTITY_NOT_FOUND naming every requested id.
func (s *Service) GetEntitiesByIDs(ctx context.Context, ids []string, spec *query.Spec) (res strata.Result[[]materialize.Entity]) {
	defer recoverResult(ctx, s.logger, "get entities by ids", &res)
	st, err := s.compiler.CompileByIDs(ctx, s.entity, ids, spec, query.Options{})
	if err != nil {
		return strata.Fail[[]materialize.Entity](err)
	}
	entities, md, err := s.fetch(ctx, st)
	if err != nil {
		return strata.Fail[[]materialize.Entity](err)
	}
	if len(entities) == 0 {
		return strata.Fail[[]materialize.Entity](strata.NotFound(s.entity.Name(), ids))
	}
	return strata.OK(entities, md)
}

// GetEntityByID returns the entity with the given id.
func (s *Service) GetEntityByID(ctx context.Context, id string, spec *query.Spec) strata.Result[materialize.Entity] {
	res := s.GetEntitiesByIDs(ctx, []string{id}, spec)
	if res.Failed() {
		return strata.Result[materialize.Entity]{Err: res.Err}
	}
	return strata.OK(res.Data[0], res.Metadata)
}

// GetEntities returns the entities matching spec. An empty match is a
// successful empty list.
func (s *Service) GetEntities(ctx context.Context, spec *query.Spec, opts query.Options) (res strata.Result[[]materialize.Entity]) {
	defer recoverResult(ctx, s.logger, "get entities", &res)
	st, err := s.compiler.Compile(ctx, s.entity, spec, opts)
	if err != nil {
		return strata.Fail[[]materialize.Entity](err)
	}
	entities, md, err := s.fetch(ctx, st)
	if err != nil {
		return strata.Fail[[]materialize.Entity](err)
	}
	if entities == nil {
		entities = []materialize.Entity{}
	}
	return strata.OK(entities, md)
}

// CreateEntity inserts an entity and returns its id. Values are keyed by
// property name. Constraint violations are reported as INVALID_ARGUMENT.
func (s *Service) CreateEntity(ctx context.Context, values map[string]any) (res strata.Result[string]) {
	defer recoverResult(ctx, s.logger, "create entity", &res)
	st, err := s.compiler.CompileInsert(ctx, s.entity, values)
	if err != nil {
		return strata.Fail[string](err)
	}
	var id string
	err = s.inTransaction(ctx, func(ctx context.Context) error {
		var err error
		id, err = s.insert(ctx, st, values)
		return err
	})
	if err != nil {
		return strata.Fail[string](err)
	}
	return strata.OK(id, strata.Metadata{})
}

// UpdateEntityByID updates the entity with the given id. The row is read
// and locked first, so a missing entity fails with ENTITY_NOT_FOUND and a
// concurrent writer waits for the transaction to end.
func (s *Service) UpdateEntityByID(ctx context.Context, id string, values map[string]any) (res strata.Result[struct{}]) {
	defer recoverResult(ctx, s.logger, "update entity", &res)
	st, err := s.compiler.CompileUpdate(ctx, s.entity, id, values)
	if err != nil {
		return strata.Fail[struct{}](err)
	}
	err = s.inTransaction(ctx, func(ctx context.Context) error {
		lock, err := s.compiler.CompileByIDs(ctx, s.entity, []string{id},
			&query.Spec{Fields: []string{s.entity.IDField()}}, query.Options{})
		if err != nil {
			return err
		}
		found, _, err := s.fetch(ctx, lock)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return strata.NotFound(s.entity.Name(), []string{id})
		}
		_, err = s.exec(ctx, st)
		return err
	})
	if err != nil {
		return strata.Fail[struct{}](err)
	}
	return strata.OK(struct{}{}, strata.Metadata{})
}

// DeleteEntitiesByIDs deletes the entities with the given ids and returns
// the number of deleted entities. Deleting nothing fails with
// ENTITY_NOT_FOUND naming every requested id.
func (s *Service) DeleteEntitiesByIDs(ctx context.Context, ids []string) (res strata.Result[int64]) {
	defer recoverResult(ctx, s.logger, "delete entities", &res)
	st, err := s.compiler.CompileDelete(ctx, s.entity, ids)
	if err != nil {
		return strata.Fail[int64](err)
	}
	var n int64
	err = s.inTransaction(ctx, func(ctx context.Context) error {
		var err error
		if n, err = s.exec(ctx, st); err != nil {
			return err
		}
		if n == 0 {
			return strata.NotFound(s.entity.Name(), ids)
		}
		return nil
	})
	if err != nil {
		return strata.Fail[int64](err)
	}
	return strata.OK(n, strata.Metadata{})
}

// inTransaction runs fn in the transaction of the chain, starting a local
// one when the chain has none. Only a transaction started here is ended
// here.
func (s *Service) inTransaction(ctx context.Context, fn func(context.Context) error) error {
	ctx = txn.Start(ctx)
	started, err := s.manager.EnsureLocal(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if v := recover(); v != nil {
			if err := s.manager.End(ctx, started, fmt.Errorf("crud: panic: %v", v)); err != nil {
				s.logger.Log(ctx, log.LevelError, "rollback after panic failed", log.Err(err))
			}
			panic(v)
		}
	}()
	err = fn(ctx)
	if eerr := s.manager.End(ctx, started, err); eerr != nil {
		if err == nil {
			return eerr
		}
		s.logger.Log(ctx, log.LevelWarn, "rollback failed", log.Err(eerr))
	}
	return err
}

func (s *Service) fetch(ctx context.Context, st *query.Statement) ([]materialize.Entity, strata.Metadata, error) {
	s.manager.RecordStatement(ctx)
	raw, err := s.adapter.ExecuteQuery(ctx, st.Text, st.Args)
	if err != nil {
		return nil, strata.Metadata{}, strata.StoreFailure("query "+s.entity.Name(), err)
	}
	rows, err := s.adapter.ResultRows(raw)
	if err != nil {
		return nil, strata.Metadata{}, strata.StoreFailure("read rows of "+s.entity.Name(), err)
	}
	return materialize.Materialize(st.Plan, rows)
}

func (s *Service) exec(ctx context.Context, st *query.Statement) (int64, error) {
	s.manager.RecordStatement(ctx)
	n, err := s.adapter.ExecuteCommand(ctx, st.Text, st.Args)
	if err != nil {
		return 0, s.writeError(err)
	}
	return n, nil
}

func (s *Service) insert(ctx context.Context, st *query.Statement, values map[string]any) (string, error) {
	idColumn := s.entity.ID().Column()
	if st.Returning {
		s.manager.RecordStatement(ctx)
		raw, err := s.adapter.ExecuteQuery(ctx, st.Text, st.Args)
		if err != nil {
			return "", s.writeError(err)
		}
		return s.readID(raw, idColumn)
	}
	if _, err := s.exec(ctx, st); err != nil {
		return "", err
	}
	if st.LastInsertID != "" {
		s.manager.RecordStatement(ctx)
		raw, err := s.adapter.ExecuteQuery(ctx, st.LastInsertID, nil)
		if err != nil {
			return "", strata.StoreFailure("read generated id of "+s.entity.Name(), err)
		}
		return s.readID(raw, idColumn)
	}
	v, err := materialize.Coerce(schema.TypeString, values[s.entity.IDField()])
	if err != nil {
		return "", strata.StoreFailure("convert id of "+s.entity.Name(), err)
	}
	id, _ := v.(string)
	return id, nil
}

func (s *Service) readID(raw dialect.Result, column string) (string, error) {
	rows, err := s.adapter.ResultRows(raw)
	if err != nil {
		return "", strata.StoreFailure("read generated id of "+s.entity.Name(), err)
	}
	if len(rows) == 0 || rows[0][column] == nil {
		return "", strata.StoreFailure("read generated id of "+s.entity.Name(), errors.New("no id returned"))
	}
	v, err := materialize.Coerce(schema.TypeString, rows[0][column])
	if err != nil {
		return "", strata.StoreFailure("convert id of "+s.entity.Name(), err)
	}
	return v.(string), nil
}

// writeError classifies the failure of a write statement.
func (s *Service) writeError(err error) error {
	if sql.IsConstraintError(err) {
		return &strata.Error{
			Kind:    strata.KindInvalidArgument,
			Message: "constraint violated writing " + s.entity.Name(),
			Err:     err,
		}
	}
	return strata.StoreFailure("write "+s.entity.Name(), err)
}

// recoverResult turns a panic into a failed result.
func recoverResult[T any](ctx context.Context, l log.Logger, op string, res *strata.Result[T]) {
	v := recover()
	if v == nil {
		return
	}
	l.Log(ctx, log.LevelError, "operation panicked", log.String("op", op), log.Any("panic", v))
	*res = strata.Fail[T](strata.StoreFailure(op, fmt.Errorf("panic: %v", v)))
}
