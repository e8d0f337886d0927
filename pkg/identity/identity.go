package identity

import (
	"errors"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/benmeehan/hyperate-agent/pkg/file"
)

// AuthTokenEnv overrides the stored auth token when set.
const AuthTokenEnv = "HYPERATE_API_KEY"

// ErrInvalidDeviceID is returned when saving a malformed device id.
var ErrInvalidDeviceID = errors.New("invalid device id")

var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{3,6}$`)

// ValidateDeviceID reports whether id is 3 to 6 ASCII letters or digits.
func ValidateDeviceID(id string) bool {
	return deviceIDPattern.MatchString(id)
}

// Settings is the persisted session configuration.
type Settings struct {
	DeviceID  string `json:"device_id,omitempty"`
	AuthToken string `json:"auth_token,omitempty"`
}

// SettingsStoreInterface defines methods for managing persisted settings.
type SettingsStoreInterface interface {
	Load() error
	UpdateDeviceID(deviceID string) (string, error)
	DeviceID() string
	AuthToken() string
}

// SettingsStore keeps the device id and auth token in a JSON file. Only
// values read from or saved to the file are written back; the configured
// default token never is.
type SettingsStore struct {
	SettingsFile string
	fileOps      file.FileOperations
	getenv       func(string) string
	defaultToken string

	mu       sync.RWMutex
	settings Settings
}

// NewSettingsStore initializes a new SettingsStore. defaultToken is used
// when neither the environment nor the file provides one.
func NewSettingsStore(filePath string, fileOps file.FileOperations, defaultToken string) *SettingsStore {
	return &SettingsStore{
		SettingsFile: filePath,
		fileOps:      fileOps,
		getenv:       os.Getenv,
		defaultToken: defaultToken,
	}
}

// Load reads the settings file. A missing file keeps the defaults.
func (s *SettingsStore) Load() error {
	var loaded Settings
	if err := s.fileOps.ReadJsonFile(s.SettingsFile, &loaded); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = loaded
	return nil
}

// UpdateDeviceID trims and validates deviceID, then persists it. It
// returns the stored value.
func (s *SettingsStore) UpdateDeviceID(deviceID string) (string, error) {
	deviceID = strings.TrimSpace(deviceID)
	if !ValidateDeviceID(deviceID) {
		return "", ErrInvalidDeviceID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	updated := s.settings
	updated.DeviceID = deviceID
	if err := s.fileOps.WriteJsonFile(s.SettingsFile, updated); err != nil {
		return "", err
	}
	s.settings = updated
	return deviceID, nil
}

// DeviceID returns the stored device id.
func (s *SettingsStore) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.DeviceID
}

// AuthToken returns the auth token from the environment, the settings file
// or the configured default, in that order.
func (s *SettingsStore) AuthToken() string {
	if token := s.getenv(AuthTokenEnv); token != "" {
		return token
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings.AuthToken != "" {
		return s.settings.AuthToken
	}
	return s.defaultToken
}
