//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"github.com/autumn-ma/django-culture/internal/app"
)

// InitializeApp builds the fully wired HTTP service.
func InitializeApp() (*app.App, error) {
	panic(wire.Build(AppProviderSet))
}

// InitializeMigrationRunner builds just enough of the graph to migrate and
// seed the database, for the `migrate` subcommand.
func InitializeMigrationRunner() (*MigrationRunner, error) {
	panic(wire.Build(ConfigSet, provideOpenDB, NewMigrationRunner))
}
