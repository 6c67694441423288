package supervisor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/snowmigrate/snowmigrate-api/internal/models"
)

// Credential env variable names expected by the engine. Passwords travel
// here and never on the command line.
const (
	EnvSourcePassword = "SNOWMIGRATE_SOURCE_PASSWORD"
	EnvTargetPassword = "SNOWMIGRATE_TARGET_PASSWORD"
)

// Credentials are the decrypted secrets for one launch. They exist only for
// the duration of spec rendering.
type Credentials struct {
	SourcePassword string
	TargetPassword string
}

// BuildLaunchSpec renders one job into the engine invocation contract:
// non-secret connection parameters as flags, the table list comma-joined in
// migration order, credentials in the environment.
func BuildLaunchSpec(enginePath string, desc models.JobDescriptor, src models.SourceConnection, tgt models.SnowflakeConnection, creds Credentials) LaunchSpec {
	tables := make([]string, 0, len(desc.Tables))
	for _, t := range desc.Tables {
		tables = append(tables, t.FullName())
	}

	targetSchema := desc.TargetSchema
	if targetSchema == "" {
		targetSchema = tgt.SchemaName
	}

	args := []string{
		"migrate",
		"--source-type", string(src.Type),
		"--source-host", src.Host,
		"--source-port", strconv.Itoa(src.Port),
		"--source-database", src.Database,
		"--source-user", src.Username,
		"--tables", strings.Join(tables, ","),
		"--target-account", tgt.Account,
		"--target-warehouse", tgt.Warehouse,
		"--target-database", tgt.Database,
		"--target-schema", targetSchema,
		"--target-user", tgt.Username,
		"--staging-id", desc.StagingAreaID,
	}

	if desc.Options.TruncateBeforeLoad {
		args = append(args, "--truncate-before-load")
	}
	if desc.Options.AppendMode {
		args = append(args, "--append")
	}
	if desc.Options.VerifyRowCounts {
		args = append(args, "--verify-row-counts")
	}
	if desc.MaxParallelTables > 0 {
		args = append(args, "--max-parallel-tables", strconv.Itoa(desc.MaxParallelTables))
	}

	return LaunchSpec{
		Path: enginePath,
		Args: args,
		Env: []string{
			fmt.Sprintf("%s=%s", EnvSourcePassword, creds.SourcePassword),
			fmt.Sprintf("%s=%s", EnvTargetPassword, creds.TargetPassword),
		},
	}
}
