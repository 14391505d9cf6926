package order

import "go.uber.org/fx"

// Module provides the order repository over the shared writer and reader pools.
var Module = fx.Module("repository_order", fx.Provide(NewRepository))
