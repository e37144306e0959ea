package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/concordkv/concord/pkg/health"
	"github.com/concordkv/concord/pkg/types"
)

// noneChecker is always healthy, the default when an instance declares no
// health-check type.
type noneChecker struct{}

func (noneChecker) Check(_ context.Context) health.Result {
	return health.Result{Healthy: true, Message: "no health check configured"}
}
func (noneChecker) Type() string { return "none" }

// checkerFor builds the health.Checker an instance's metadata requests.
// Unknown types fall back to NONE rather than failing registration.
func checkerFor(inst *types.Instance) health.Checker {
	switch inst.Metadata["health_check_type"] {
	case "tcp":
		return health.NewTCPChecker(inst.IP + ":" + portString(inst.Port))
	case "http":
		path := inst.Metadata["health_check_path"]
		if path == "" {
			path = "/health"
		}
		return health.NewHTTPChecker(fmt.Sprintf("http://%s:%d%s", inst.IP, inst.Port, path))
	case "exec":
		if cmd := inst.Metadata["health_check_exec"]; cmd != "" {
			return health.NewExecChecker([]string{"/bin/sh", "-c", cmd})
		}
		return noneChecker{}
	default:
		return noneChecker{}
	}
}

func portString(port int) string {
	return fmt.Sprintf("%d", port)
}

func marshalInstance(inst *types.Instance) (string, error) {
	data, err := json.Marshal(inst)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalInstance(content string) (*types.Instance, error) {
	var inst types.Instance
	if err := json.Unmarshal([]byte(content), &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}
