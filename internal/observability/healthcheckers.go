package observability

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"
)

// DatabaseHealthChecker checks the health of the bbolt-backed flow store.
type DatabaseHealthChecker struct {
	name string
	db   *bbolt.DB
}

// NewDatabaseHealthChecker creates a new database health checker.
func NewDatabaseHealthChecker(name string, db *bbolt.DB) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{name: name, db: db}
}

// Name returns the name of the health checker.
func (dhc *DatabaseHealthChecker) Name() string { return dhc.name }

// HealthCheck verifies a read transaction can be started.
func (dhc *DatabaseHealthChecker) HealthCheck(_ context.Context) error {
	if dhc.db == nil {
		return fmt.Errorf("database is nil")
	}
	return dhc.db.View(func(_ *bbolt.Tx) error { return nil })
}

// ReadinessCheck performs a database readiness check.
func (dhc *DatabaseHealthChecker) ReadinessCheck(ctx context.Context) error {
	return dhc.HealthCheck(ctx)
}

// ComponentHealthChecker is a generic health checker for components with a
// simple boolean status.
type ComponentHealthChecker struct {
	name      string
	isHealthy func() bool
	isReady   func() bool
}

// NewComponentHealthChecker creates a new component health checker.
func NewComponentHealthChecker(name string, isHealthy, isReady func() bool) *ComponentHealthChecker {
	return &ComponentHealthChecker{name: name, isHealthy: isHealthy, isReady: isReady}
}

// Name returns the name of the health checker.
func (chc *ComponentHealthChecker) Name() string { return chc.name }

// HealthCheck reports whether the component considers itself healthy.
func (chc *ComponentHealthChecker) HealthCheck(_ context.Context) error {
	if chc.isHealthy == nil {
		return fmt.Errorf("isHealthy function is nil")
	}
	if !chc.isHealthy() {
		return fmt.Errorf("component is not healthy")
	}
	return nil
}

// ReadinessCheck reports whether the component considers itself ready.
func (chc *ComponentHealthChecker) ReadinessCheck(_ context.Context) error {
	if chc.isReady == nil {
		return fmt.Errorf("isReady function is nil")
	}
	if !chc.isReady() {
		return fmt.Errorf("component is not ready")
	}
	return nil
}

var _ HealthChecker = (*DatabaseHealthChecker)(nil)
var _ ReadinessChecker = (*DatabaseHealthChecker)(nil)
var _ HealthChecker = (*ComponentHealthChecker)(nil)
var _ ReadinessChecker = (*ComponentHealthChecker)(nil)
