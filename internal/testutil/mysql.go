package testutil

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"go.uber.org/multierr"
)

const mysqlExpireSeconds = 120

var (
	mysqlSchemaPath string
	mysqlConfig     *mysql.Config
)

// MySQLConfig returns a copy of the connection settings of the running
// container, or nil when TestWithMySQL has not succeeded.
func MySQLConfig() *mysql.Config {
	if mysqlConfig == nil {
		return nil
	}
	return mysqlConfig.Clone()
}

func initMySQLSchemaPath() error {
	if mysqlSchemaPath != "" {
		return nil
	}

	var err error
	mysqlSchemaPath, err = fixture("schema.sql")
	return err
}

// TestWithMySQL starts MySQL 8 with schema.sql applied.
func TestWithMySQL(pool *dockertest.Pool) (_ *sql.DB, _ Cleanup, err error) {
	pool, err = initDockertest(pool)
	if err != nil {
		return nil, nil, err
	}

	if err = initMySQLSchemaPath(); err != nil {
		return nil, nil, err
	}

	resource, err := pool.RunWithOptions(
		&dockertest.RunOptions{
			Repository: "mysql",
			Tag:        "8.0",
			Env: []string{
				"MYSQL_DATABASE=firechat",
				"MYSQL_PASSWORD=password",
				"MYSQL_USER=user",
				"MYSQL_ROOT_PASSWORD=password",
			},
			Mounts: []string{
				fmt.Sprintf("%s:/docker-entrypoint-initdb.d/00_schema.sql", mysqlSchemaPath),
				fmt.Sprintf("%s:/etc/mysql/conf.d/my.cnf:ro", filepath.Join(dockerDir, "mysql", "conf.d", "my_custom.cnf")),
			},
		},
		func(config *docker.HostConfig) {
			config.AutoRemove = true
			config.RestartPolicy = docker.RestartPolicy{Name: "no"}
		},
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to run mysql container: %w", err)
	}

	cleanup := func() error {
		if purgeErr := pool.Purge(resource); purgeErr != nil {
			return fmt.Errorf("failed to purge mysql container: %w", purgeErr)
		}
		return nil
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, cleanup())
		}
	}()

	if err = resource.Expire(mysqlExpireSeconds); err != nil {
		return nil, nil, fmt.Errorf("failed to set expire time: %w", err)
	}

	config := mysql.NewConfig()
	config.User = "user"
	config.Passwd = "password"
	config.Net = "tcp"
	config.Addr = resource.GetHostPort("3306/tcp")
	config.DBName = "firechat"
	config.ParseTime = true
	config.AllowNativePasswords = true

	db, err := sql.Open("mysql", config.FormatDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open mysql: %w", err)
	}

	err = pool.Retry(db.Ping)
	if err != nil {
		return nil, nil, multierr.Append(fmt.Errorf("failed to connect to mysql: %w", err), db.Close())
	}

	mysqlConfig = config
	return db, cleanup, nil
}
