package evaluator

import (
	"context"
	"fmt"
	"os/exec"
)

// CommandCheck builds a Check that shells out to a command in the workspace
// root and passes when the command exits zero. The combined output becomes the
// check's logs, which is what the failure classifier reads.
func CommandCheck(name, command string, weight float64) Check {
	return Check{
		Name:   name,
		Weight: weight,
		Fn: func(ctx context.Context, a Artifacts, ec Context) (bool, string) {
			cmd := exec.CommandContext(ctx, "sh", "-c", command)
			cmd.Dir = ec.WorkspaceRoot
			out, err := cmd.CombinedOutput()
			if err != nil {
				return false, fmt.Sprintf("%s\n%v", out, err)
			}
			return true, string(out)
		},
	}
}
