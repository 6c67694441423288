package models

import (
	"fmt"
	"time"
)

// SourceType enumerates the supported source databases.
type SourceType string

const (
	SourcePostgres  SourceType = "postgres"
	SourceMySQL     SourceType = "mysql"
	SourceOracle    SourceType = "oracle"
	SourceSQLServer SourceType = "sqlserver"
)

// ConnectionStatus is the last known test result for a connection.
type ConnectionStatus string

const (
	ConnUnknown   ConnectionStatus = "unknown"
	ConnConnected ConnectionStatus = "connected"
	ConnFailed    ConnectionStatus = "failed"
)

// SourceConnection is a source database connection reference. The password
// is accepted on create, encrypted at rest by the registry, and only ever
// rendered into the engine process environment.
type SourceConnection struct {
	ID        string           `json:"id"`
	Name      string           `json:"name" validate:"required,max=100"`
	Type      SourceType       `json:"type" validate:"required,oneof=postgres mysql oracle sqlserver"`
	Host      string           `json:"host" validate:"required"`
	Port      int              `json:"port" validate:"required,gte=1,lte=65535"`
	Database  string           `json:"database" validate:"required"`
	Username  string           `json:"username" validate:"required"`
	Password  string           `json:"password,omitempty"`
	Status    ConnectionStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

// DisplayHost returns host:port for listings.
func (c SourceConnection) DisplayHost() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SnowflakeConnection is a target warehouse connection reference.
type SnowflakeConnection struct {
	ID         string           `json:"id"`
	Name       string           `json:"name" validate:"required,max=100"`
	Account    string           `json:"account" validate:"required"`
	Warehouse  string           `json:"warehouse" validate:"required"`
	Database   string           `json:"database" validate:"required"`
	SchemaName string           `json:"schema_name"`
	Username   string           `json:"username" validate:"required"`
	Password   string           `json:"password,omitempty"`
	Role       string           `json:"role,omitempty"`
	Status     ConnectionStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
}

// DisplayAccount returns account/warehouse for listings.
func (c SnowflakeConnection) DisplayAccount() string {
	return fmt.Sprintf("%s / %s", c.Account, c.Warehouse)
}
