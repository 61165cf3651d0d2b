// Package depgraph manages "task A depends on task B" edges inside one
// tenant scope and keeps the graph acyclic.
package depgraph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"taskdeps/api/internal/rbac"
	"taskdeps/api/internal/tenant"
	"taskdeps/api/internal/util"
)

type Service struct {
	store  Store
	cache  Cache
	logger *logrus.Logger
	now    func() time.Time
}

// NewService wires the graph service. cache may be nil, in which case the
// cycle check queries the store one node at a time.
func NewService(store Store, cache Cache, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		store:  store,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) ListDependencies(ctx context.Context, actor Actor, scope tenant.ScopeKey, taskID string) (Listing, error) {
	taskID = strings.TrimSpace(taskID)
	if err := s.precheck(ctx, actor, scope, rbac.ActionRead, taskID); err != nil {
		return Listing{}, err
	}

	dependsOn, err := s.store.ListDependsOn(ctx, scope, taskID)
	if err != nil {
		return Listing{}, err
	}
	blocking, err := s.store.ListBlocking(ctx, scope, taskID)
	if err != nil {
		return Listing{}, err
	}
	return Listing{DependsOn: nonNilEdges(dependsOn), Blocking: nonNilEdges(blocking)}, nil
}

// AddDependency records that taskID depends on dependsOnTaskID. Checks run
// in order and the first failure wins: both tasks in scope, not a self
// dependency, no cycle, not a duplicate.
func (s *Service) AddDependency(ctx context.Context, actor Actor, scope tenant.ScopeKey, taskID, dependsOnTaskID, dependencyType string) (Edge, error) {
	if err := authorize(actor, scope, rbac.ActionWrite); err != nil {
		return Edge{}, err
	}
	taskID = strings.TrimSpace(taskID)
	dependsOnTaskID = strings.TrimSpace(dependsOnTaskID)
	dependencyType, err := normalizeType(dependencyType)
	if err != nil {
		return Edge{}, err
	}

	var created Edge
	err = s.store.WithScopeLock(ctx, scope, func(tx Tx) error {
		for _, id := range []string{taskID, dependsOnTaskID} {
			ok, err := taskInScope(ctx, tx, scope, id)
			if err != nil {
				return err
			}
			if !ok {
				return ErrTaskNotFound
			}
		}

		if taskID == dependsOnTaskID {
			return ErrSelfDependency
		}

		targets, err := s.targets(ctx, tx, scope)
		if err != nil {
			return err
		}
		path, err := findPath(ctx, dependsOnTaskID, taskID, targets)
		if err != nil {
			return fmt.Errorf("cycle check: %w", err)
		}
		if path != nil {
			return &CycleError{Path: append([]string{taskID}, path...)}
		}

		exists, err := tx.EdgeExists(ctx, taskID, dependsOnTaskID)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateDependency
		}

		dep := Dependency{
			ID:              util.NewID("dep"),
			TaskID:          taskID,
			DependsOnTaskID: dependsOnTaskID,
			DependencyType:  dependencyType,
			CreatedAt:       s.now().UTC(),
		}
		if err := tx.InsertDependency(ctx, dep); err != nil {
			return err
		}
		if err := s.invalidate(ctx, scope); err != nil {
			return err
		}

		ref, err := tx.TaskRef(ctx, dependsOnTaskID)
		if err != nil {
			return err
		}
		created = Edge{Dependency: dep, Title: ref.Title, Status: ref.Status, Priority: ref.Priority}
		return nil
	})
	if err != nil {
		return Edge{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"scope":         scope.String(),
		"actor":         actor.UserID,
		"dependency_id": created.ID,
		"task_id":       created.TaskID,
		"depends_on":    created.DependsOnTaskID,
	}).Info("dependency added")
	return created, nil
}

// RemoveDependency deletes the edge only when it belongs to taskID. Removing
// an edge cannot create a cycle, so nothing is re-validated.
func (s *Service) RemoveDependency(ctx context.Context, actor Actor, scope tenant.ScopeKey, taskID, dependencyID string) error {
	if err := authorize(actor, scope, rbac.ActionWrite); err != nil {
		return err
	}
	taskID = strings.TrimSpace(taskID)
	dependencyID = strings.TrimSpace(dependencyID)

	err := s.store.WithScopeLock(ctx, scope, func(tx Tx) error {
		ok, err := taskInScope(ctx, tx, scope, taskID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTaskNotFound
		}
		deleted, err := tx.DeleteDependency(ctx, taskID, dependencyID)
		if err != nil {
			return err
		}
		if !deleted {
			return ErrDependencyNotFound
		}
		return s.invalidate(ctx, scope)
	})
	if err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"scope":         scope.String(),
		"actor":         actor.UserID,
		"dependency_id": dependencyID,
		"task_id":       taskID,
	}).Info("dependency removed")
	return nil
}

// IsBlocked reports whether any prerequisite of taskID is not yet
// "completed". Other terminal-looking statuses still block.
func (s *Service) IsBlocked(ctx context.Context, actor Actor, scope tenant.ScopeKey, taskID string) (BlockStatus, error) {
	taskID = strings.TrimSpace(taskID)
	if err := s.precheck(ctx, actor, scope, rbac.ActionRead, taskID); err != nil {
		return BlockStatus{}, err
	}

	dependsOn, err := s.store.ListDependsOn(ctx, scope, taskID)
	if err != nil {
		return BlockStatus{}, err
	}
	status := BlockStatus{BlockingTasks: make([]BlockingTask, 0)}
	for _, edge := range dependsOn {
		if edge.Status == StatusCompleted {
			continue
		}
		status.BlockingTasks = append(status.BlockingTasks, BlockingTask{
			ID:     edge.DependsOnTaskID,
			Title:  edge.Title,
			Status: edge.Status,
		})
	}
	status.IsBlocked = len(status.BlockingTasks) > 0
	return status, nil
}

func (s *Service) precheck(ctx context.Context, actor Actor, scope tenant.ScopeKey, action rbac.Action, taskID string) error {
	if err := authorize(actor, scope, action); err != nil {
		return err
	}
	ok, err := taskInScope(ctx, s.store, scope, taskID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTaskNotFound
	}
	return nil
}

// targets picks the adjacency source for the cycle check: a cached snapshot,
// a snapshot loaded in tx and then cached, or per-node queries when there is
// no cache.
func (s *Service) targets(ctx context.Context, tx Tx, scope tenant.ScopeKey) (targetsFunc, error) {
	if s.cache == nil {
		return tx.DependencyTargets, nil
	}

	adj, ok, err := s.cache.Get(ctx, scope)
	if err != nil {
		s.logger.WithError(err).WithField("scope", scope.String()).Warn("graph cache read failed")
	} else if ok {
		return adj.Targets, nil
	}

	adj, err = tx.Adjacency(ctx, scope)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, scope, adj); err != nil {
		s.logger.WithError(err).WithField("scope", scope.String()).Warn("graph cache write failed")
	}
	return adj.Targets, nil
}

// invalidate fails the mutation when the cache cannot be cleared; a stale
// snapshot would let a later cycle through.
func (s *Service) invalidate(ctx context.Context, scope tenant.ScopeKey) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Invalidate(ctx, scope); err != nil {
		return fmt.Errorf("invalidate graph cache: %w", err)
	}
	return nil
}

func authorize(actor Actor, scope tenant.ScopeKey, action rbac.Action) error {
	if !scope.Valid() {
		return ErrInvalidScope
	}
	if !rbac.Can(actor.Role, action) {
		return ErrForbidden
	}
	return nil
}

func taskInScope(ctx context.Context, reader TaskReader, scope tenant.ScopeKey, taskID string) (bool, error) {
	if taskID == "" {
		return false, nil
	}
	return reader.TaskInScope(ctx, scope, taskID)
}

func normalizeType(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultDependencyType, nil
	}
	if len(value) > maxDependencyTypeLen {
		return "", ErrInvalidType
	}
	return value, nil
}

func nonNilEdges(edges []Edge) []Edge {
	if edges == nil {
		return []Edge{}
	}
	return edges
}
