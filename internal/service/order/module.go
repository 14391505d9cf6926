package order

import "go.uber.org/fx"

// Module provides the order service. Attachments are purged through the file store unless a
// Purger is supplied.
var Module = fx.Module("service_order", fx.Provide(NewService))
