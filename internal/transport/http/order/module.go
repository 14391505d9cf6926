package order

import "go.uber.org/fx"

// Module mounts the order record routes on the shared router.
var Module = fx.Module("http_order",
	fx.Provide(NewHandler),
	fx.Invoke(Register),
)
