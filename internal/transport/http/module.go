package http

import (
	"go.uber.org/fx"

	attachmenttransport "github.com/Additional-Code/procura/internal/transport/http/attachment"
	ordertransport "github.com/Additional-Code/procura/internal/transport/http/order"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	ordertransport.Module,
	attachmenttransport.Module,
)
