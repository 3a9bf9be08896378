// Package config читает конфигурацию сервисов Conveyor из переменных окружения.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/Conveyor/internal/artifact"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/report"
	"github.com/shaiso/Conveyor/internal/repo"
)

// ErrInvalidConfig — значение переменной окружения некорректно.
var ErrInvalidConfig = errors.New("invalid config")

// Config — конфигурация всех сервисов.
type Config struct {
	DatabaseURL string
	RabbitMQURL string

	APIPort     string
	MetricsPort string

	Artifact artifact.Config

	ReportURL          string
	ReportProject      string
	ReportHost         string
	ReportToken        string
	ReportClientID     string
	ReportClientSecret string
	ReportTokenURL     string
	RunURLTemplate     string

	// SourceDir — репозиторий (путь или URL), из которого собирается пакет.
	SourceDir string

	// IndexRepositoryURL — адрес package index; пустой означает index по умолчанию.
	IndexRepositoryURL string

	WorkerConcurrency int
	SchedulerInterval time.Duration
}

// FromEnv читает конфигурацию из окружения процесса.
func FromEnv() (Config, error) {
	return Load(os.Getenv)
}

// Load читает конфигурацию через getenv и применяет значения по умолчанию.
func Load(getenv func(string) string) (Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		DatabaseURL: env("DB_URL", repo.DefaultDSN),
		RabbitMQURL: env("RABBITMQ_URL", mq.DefaultURL()),
		APIPort:     env("API_PORT", "8080"),
		MetricsPort: env("METRICS_PORT", "9090"),
		Artifact: artifact.Config{
			Backend:   artifact.Backend(strings.ToLower(env("ARTIFACT_BACKEND", string(artifact.BackendMemory)))),
			Endpoint:  env("ARTIFACT_ENDPOINT", ""),
			Bucket:    env("ARTIFACT_BUCKET", "conveyor-artifacts"),
			Region:    env("ARTIFACT_REGION", "us-east-1"),
			AccessKey: env("ARTIFACT_ACCESS_KEY", ""),
			SecretKey: env("ARTIFACT_SECRET_KEY", ""),
		},
		ReportURL:          env("REPORT_URL", ""),
		ReportProject:      env("REPORT_PROJECT", "conveyor"),
		ReportHost:         env("REPORT_HOST", ""),
		ReportToken:        env("REPORT_TOKEN", ""),
		ReportClientID:     env("REPORT_CLIENT_ID", ""),
		ReportClientSecret: env("REPORT_CLIENT_SECRET", ""),
		ReportTokenURL:     env("REPORT_TOKEN_URL", ""),
		RunURLTemplate:     env("RUN_URL_TEMPLATE", ""),
		SourceDir:          env("SOURCE_DIR", "."),
		IndexRepositoryURL: env("INDEX_REPOSITORY_URL", ""),
	}

	var errs []error

	useSSL, err := strconv.ParseBool(env("ARTIFACT_USE_SSL", "false"))
	if err != nil {
		errs = append(errs, fmt.Errorf("ARTIFACT_USE_SSL: %w", err))
	}
	cfg.Artifact.UseSSL = useSSL

	cfg.WorkerConcurrency, err = strconv.Atoi(env("WORKER_CONCURRENCY", "4"))
	if err != nil {
		errs = append(errs, fmt.Errorf("WORKER_CONCURRENCY: %w", err))
	}

	cfg.SchedulerInterval, err = time.ParseDuration(env("SCHEDULER_INTERVAL", "1s"))
	if err != nil {
		errs = append(errs, fmt.Errorf("SCHEDULER_INTERVAL: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, cfg.Validate()
}

// Validate проверяет согласованность значений.
func (c Config) Validate() error {
	var errs []error

	for name, port := range map[string]string{"API_PORT": c.APIPort, "METRICS_PORT": c.MetricsPort} {
		if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
			errs = append(errs, fmt.Errorf("%s: invalid port %q", name, port))
		}
	}
	if c.WorkerConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.WorkerConcurrency))
	}
	if c.SchedulerInterval <= 0 {
		errs = append(errs, fmt.Errorf("SCHEDULER_INTERVAL must be positive, got %s", c.SchedulerInterval))
	}
	if err := c.Artifact.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("artifact: %w", err))
	}
	if c.ReportClientID != "" && c.ReportTokenURL == "" {
		errs = append(errs, errors.New("REPORT_CLIENT_ID requires REPORT_TOKEN_URL"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ReportClient возвращает параметры клиента сервиса отчётов.
func (c Config) ReportClient() report.ClientConfig {
	return report.ClientConfig{
		URL:          c.ReportURL,
		Token:        c.ReportToken,
		ClientID:     c.ReportClientID,
		ClientSecret: c.ReportClientSecret,
		TokenURL:     c.ReportTokenURL,
	}
}

// ReportOptions возвращает параметры документа отчёта.
func (c Config) ReportOptions() report.Options {
	return report.Options{
		Host:           c.ReportHost,
		Project:        c.ReportProject,
		RunURLTemplate: c.RunURLTemplate,
	}
}

// ReportingEnabled сообщает, задан ли адрес сервиса отчётов.
func (c Config) ReportingEnabled() bool {
	return c.ReportURL != ""
}
