package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/procura/internal/cache"
	"github.com/Additional-Code/procura/internal/config"
	"github.com/Additional-Code/procura/internal/database"
	"github.com/Additional-Code/procura/internal/logger"
	"github.com/Additional-Code/procura/internal/messaging"
	"github.com/Additional-Code/procura/internal/migration"
	"github.com/Additional-Code/procura/internal/observability"
	repositoryorder "github.com/Additional-Code/procura/internal/repository/order"
	"github.com/Additional-Code/procura/internal/seeder"
	grpcserver "github.com/Additional-Code/procura/internal/server/grpc"
	httpserver "github.com/Additional-Code/procura/internal/server/http"
	serviceattachment "github.com/Additional-Code/procura/internal/service/attachment"
	serviceorder "github.com/Additional-Code/procura/internal/service/order"
	"github.com/Additional-Code/procura/internal/storage/filestore"
	transporthttp "github.com/Additional-Code/procura/internal/transport/http"
	"github.com/Additional-Code/procura/internal/worker"
	workerorder "github.com/Additional-Code/procura/internal/worker/order"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
	filestore.Module,
	repositoryorder.Module,
	serviceorder.Module,
	serviceattachment.Module,
)

// HTTP wires the HTTP and gRPC transports on top of the core modules.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Worker exposes background worker processing.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerorder.Module,
)

// Tools backs the one-shot CLI commands: migrations, seeding and file sweeps.
var Tools = fx.Options(
	Core,
	migration.Module,
	seeder.Module,
)

// Module is the default application wiring.
var Module = HTTP
