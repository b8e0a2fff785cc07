package cloud

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/nerrad567/sensecraft-core/internal/infrastructure/logging"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/metrics"
	"github.com/nerrad567/sensecraft-core/internal/session"
)

// Cloud environments.
const (
	EnvChina  = "china"
	EnvGlobal = "global"
)

// maxReplySize bounds API reply bodies.
const maxReplySize = 4 << 20

// ErrAPI is returned when the SenseCAP API rejects a call.
var ErrAPI = errors.New("cloud: api request failed")

// Endpoints are the SenseCAP service addresses for one environment.
type Endpoints struct {
	Portal     string `json:"portal"`
	OpenAPI    string `json:"openapi"`
	OpenStream string `json:"openstream"`
}

var environments = map[string]Endpoints{
	EnvChina: {
		Portal:     "https://sensecap.seeed.cn/portalapi",
		OpenAPI:    "https://sensecap.seeed.cn/openapi",
		OpenStream: "sensecap-openstream.seeed.cn",
	},
	EnvGlobal: {
		Portal:     "https://sensecap.seeed.cc/portalapi",
		OpenAPI:    "https://sensecap.seeed.cc/openapi",
		OpenStream: "sensecap-openstream.seeed.cc",
	},
}

// EndpointsFor returns the service addresses for env.
func EndpointsFor(env string) (Endpoints, error) {
	ep, ok := environments[env]
	if !ok {
		return Endpoints{}, fmt.Errorf("%w: unknown env %q", session.ErrInvalidConfig, env)
	}
	return ep, nil
}

// ID is an identifier the API sends as either a string or a number.
type ID string

// UnmarshalJSON accepts "42" and 42.
func (id *ID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// HashPassword returns the md5 hex digest the portal login expects.
func HashPassword(password string) string {
	sum := md5.Sum([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Login is the portal login result.
type Login struct {
	Token string `json:"token"`
	OrgID ID     `json:"org_id"`
}

// Access is the organisation's fixed API key pair.
type Access struct {
	AccessID  string `json:"access_id"`
	AccessKey string `json:"access_key"`
}

// Device is one entry of list_devices.
type Device struct {
	EUI  string `json:"device_eui"`
	Name string `json:"device_name"`
}

// Channel is one measurement channel of a device.
type Channel struct {
	Index          ID   `json:"channel_index"`
	MeasurementIDs []ID `json:"measurement_ids"`
}

// DeviceChannels is one entry of list_device_channels.
type DeviceChannels struct {
	EUI         string    `json:"device_eui"`
	Name        string    `json:"device_name"`
	UniformType ID        `json:"uniform_type"`
	Channels    []Channel `json:"channels"`
}

// APIClient talks to the SenseCAP portal and open API.
type APIClient struct {
	http   *http.Client
	ep     Endpoints
	logger *logging.Logger
}

// NewAPIClient creates a client for the given endpoints.
func NewAPIClient(httpClient *http.Client, ep Endpoints, logger *logging.Logger) *APIClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &APIClient{http: httpClient, ep: ep, logger: logger.With("component", "cloud_api")}
}

// Login signs in with an md5-hashed password.
func (c *APIClient) Login(ctx context.Context, account, passwordMD5 string) (Login, error) {
	q := url.Values{}
	q.Set("account", account)
	q.Set("password", passwordMD5)
	q.Set("origin", "1")

	var out Login
	err := c.call(ctx, http.MethodPost, c.ep.Portal+"/user/login?"+q.Encode(), nil, func(*http.Request) {}, &out)
	return out, err
}

// FixedAccess fetches the organisation's API key pair.
func (c *APIClient) FixedAccess(ctx context.Context, token string) (Access, error) {
	var out Access
	err := c.call(ctx, http.MethodGet, c.ep.Portal+"/organization/access/getFixedAccess", nil, func(r *http.Request) {
		r.Header.Set("Authorization", token)
	}, &out)
	return out, err
}

// ListDevices lists every device visible to the key pair.
func (c *APIClient) ListDevices(ctx context.Context, access Access) ([]Device, error) {
	var out []Device
	err := c.call(ctx, http.MethodGet, c.ep.OpenAPI+"/list_devices", nil, basicAuth(access), &out)
	return out, err
}

// ListDeviceChannels describes the channels of the given devices.
func (c *APIClient) ListDeviceChannels(ctx context.Context, access Access, euis []string) ([]DeviceChannels, error) {
	body, err := json.Marshal(map[string][]string{"device_euis": euis})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	var out []DeviceChannels
	err = c.call(ctx, http.MethodPost, c.ep.OpenAPI+"/list_device_channels", body, func(r *http.Request) {
		r.Header.Set("Content-Type", "application/json")
		basicAuth(access)(r)
	}, &out)
	return out, err
}

func basicAuth(a Access) func(*http.Request) {
	return func(r *http.Request) { r.SetBasicAuth(a.AccessID, a.AccessKey) }
}

type reply struct {
	Code json.RawMessage `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (r reply) ok() bool {
	var code ID
	if err := json.Unmarshal(r.Code, &code); err != nil {
		return false
	}
	n, err := strconv.Atoi(string(code))
	if err != nil || n != 0 {
		return false
	}
	return len(r.Data) > 0 && !bytes.Equal(r.Data, []byte("null"))
}

func (c *APIClient) call(ctx context.Context, method, target string, body []byte, prepare func(*http.Request), out any) (err error) {
	defer func() {
		metrics.ControlCommands.WithLabelValues(string(session.KindCloud), metrics.Result(err)).Inc()
	}()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	prepare(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAPI, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return fmt.Errorf("%w: reading reply: %w", ErrAPI, err)
	}
	var r reply
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Errorf("%w: decoding reply: %w", ErrAPI, err)
	}
	path := req.URL.Path
	if !r.ok() {
		c.logger.Warn("api call rejected", "path", path, "code", string(r.Code), "msg", r.Msg)
		return fmt.Errorf("%w: %s answered code %s", ErrAPI, path, r.Code)
	}
	if err := json.Unmarshal(r.Data, out); err != nil {
		return fmt.Errorf("%w: decoding %s data: %w", ErrAPI, path, err)
	}
	return nil
}

// Authenticate signs in and resolves the organisation and key pair.
// The returned config stores the hashed password.
func Authenticate(ctx context.Context, c *APIClient, username, password, env string) (Config, error) {
	hashed := HashPassword(password)
	login, err := c.Login(ctx, username, hashed)
	if err != nil {
		return Config{}, fmt.Errorf("login: %w", err)
	}
	access, err := c.FixedAccess(ctx, login.Token)
	if err != nil {
		return Config{}, fmt.Errorf("fixed access: %w", err)
	}
	return Config{
		Username:  username,
		Password:  hashed,
		Env:       env,
		AccessID:  access.AccessID,
		AccessKey: access.AccessKey,
		OrgID:     login.OrgID,
	}, nil
}
