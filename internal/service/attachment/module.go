package attachment

import "go.uber.org/fx"

// Module provides the attachment manager.
var Module = fx.Module("service_attachment", fx.Provide(NewManager))
