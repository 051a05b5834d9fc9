// Package secrets bootstraps runtime credentials (webhook secret, database
// password, S3 keys) from an OpenBao KV path before configuration is read.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

var ErrSecretPathNotFound = errors.New("openbao secret path not found")

// BootstrapFromOpenBao reads one KV v2 secret and exports its keys as
// environment variables, so config.Load picks them up like any other env.
// Without OPENBAO_ADDR/TOKEN/SECRET_PATH the call is a no-op; local setups
// keep working from .env alone.
func BootstrapFromOpenBao(ctx context.Context) error {
	cfg := configFromEnv()
	if !cfg.enabled {
		return nil
	}

	kv, err := fetchKV(ctx, cfg)
	if err != nil {
		return err
	}

	for k, v := range kv {
		_ = os.Setenv(k, v)
	}
	return nil
}

type baoConfig struct {
	addr       string
	token      string
	mount      string
	secretPath string
	namespace  string
	enabled    bool
}

func configFromEnv() baoConfig {
	addr := strings.TrimSpace(os.Getenv("OPENBAO_ADDR"))
	token := os.Getenv("OPENBAO_TOKEN")
	secretPath := strings.Trim(strings.TrimSpace(os.Getenv("OPENBAO_SECRET_PATH")), "/")

	if addr == "" || token == "" || secretPath == "" {
		return baoConfig{enabled: false}
	}

	mount := os.Getenv("OPENBAO_MOUNT")
	if mount == "" {
		mount = "secret"
	}

	return baoConfig{
		addr:       strings.TrimRight(addr, "/"),
		token:      token,
		mount:      strings.Trim(strings.TrimSpace(mount), "/"),
		secretPath: secretPath,
		namespace:  strings.TrimSpace(os.Getenv("OPENBAO_NAMESPACE")),
		enabled:    true,
	}
}

func fetchKV(ctx context.Context, cfg baoConfig) (map[string]string, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		fmt.Sprintf("%s/v1/%s/data/%s", cfg.addr, cfg.mount, cfg.secretPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create OpenBao request: %w", err)
	}

	req.Header.Set("X-Vault-Token", cfg.token)
	if cfg.namespace != "" {
		req.Header.Set("X-Vault-Namespace", cfg.namespace)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call OpenBao: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// continue
	case http.StatusNotFound:
		return nil, ErrSecretPathNotFound
	default:
		return nil, fmt.Errorf("openbao request failed: status=%d", resp.StatusCode)
	}

	var payload struct {
		Data struct {
			Data map[string]interface{} `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode OpenBao response: %w", err)
	}

	out := make(map[string]string, len(payload.Data.Data))
	for k, v := range payload.Data.Data {
		switch val := v.(type) {
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		case float64:
			out[k] = strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", val), "0"), ".")
		default:
			// skip unsupported value types rather than failing the bootstrap
		}
	}
	return out, nil
}
