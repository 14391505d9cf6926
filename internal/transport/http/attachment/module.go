package attachment

import "go.uber.org/fx"

// Module mounts the attachment upload, download and serving routes on the shared router.
var Module = fx.Module("http_attachment",
	fx.Provide(NewHandler),
	fx.Invoke(Register),
)
