// Embedded subset of the OTel semantic convention model used to check emitted GenAI telemetry
// The YAML files follow the opentelemetry/semantic-conventions registry layout.
package semconv

import "embed"

//go:embed model
var ModelFS embed.FS
