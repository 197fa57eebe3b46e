package apsiken

import (
	"kakomon-harvester/lib/telemetry"
)

var tracer = telemetry.Tracer("kakomon.lib.scrapers.apsiken")
