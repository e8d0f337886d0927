package identity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/hyperate-agent/pkg/file"
	"github.com/benmeehan/hyperate-agent/tests/mocks"
)

func TestValidateDeviceID(t *testing.T) {
	valid := []string{"abc", "ABC123", "a1B2c3", "000"}
	invalid := []string{"", "ab", "ABCDEFG", "AB-12", "ab c", "ÄBC", " abc"}

	for _, id := range valid {
		assert.True(t, ValidateDeviceID(id), id)
	}
	for _, id := range invalid {
		assert.False(t, ValidateDeviceID(id), id)
	}
}

func TestSettingsStore_LoadMissingFileKeepsDefaults(t *testing.T) {
	fileOps := new(mocks.MockFileOperations)
	fileOps.On("ReadJsonFile", "settings.json", mock.Anything).Return(os.ErrNotExist)

	store := NewSettingsStore("settings.json", fileOps, "default-token")
	store.getenv = func(string) string { return "" }

	require.NoError(t, store.Load())
	assert.Equal(t, "", store.DeviceID())
	assert.Equal(t, "default-token", store.AuthToken())
	fileOps.AssertExpectations(t)
}

func TestSettingsStore_UpdateDeviceIDPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	store := NewSettingsStore(path, file.NewFileService(), "tok")
	store.getenv = func(string) string { return "" }

	stored, err := store.UpdateDeviceID("  AB12  ")
	require.NoError(t, err)
	assert.Equal(t, "AB12", stored)

	reloaded := NewSettingsStore(path, file.NewFileService(), "")
	reloaded.getenv = func(string) string { return "" }
	require.NoError(t, reloaded.Load())
	assert.Equal(t, "AB12", reloaded.DeviceID())
	assert.Equal(t, "", reloaded.AuthToken())
}

func TestSettingsStore_UpdateDeviceIDKeepsDefaultTokenOutOfFile(t *testing.T) {
	fileOps := new(mocks.MockFileOperations)
	fileOps.On("ReadJsonFile", "settings.json", mock.Anything).Return(os.ErrNotExist)
	fileOps.On("WriteJsonFile", "settings.json", Settings{DeviceID: "AB12"}).Return(nil)

	store := NewSettingsStore("settings.json", fileOps, "config-secret")
	store.getenv = func(string) string { return "" }
	require.NoError(t, store.Load())

	_, err := store.UpdateDeviceID("AB12")
	require.NoError(t, err)
	assert.Equal(t, "config-secret", store.AuthToken())
	fileOps.AssertExpectations(t)
}

func TestSettingsStore_UpdateDeviceIDKeepsFileToken(t *testing.T) {
	fileOps := new(mocks.MockFileOperations)
	fileOps.On("ReadJsonFile", "settings.json", mock.Anything).
		Run(func(args mock.Arguments) {
			*args.Get(1).(*Settings) = Settings{DeviceID: "old1", AuthToken: "file-token"}
		}).
		Return(nil)
	fileOps.On("WriteJsonFile", "settings.json", Settings{DeviceID: "new1", AuthToken: "file-token"}).Return(nil)

	store := NewSettingsStore("settings.json", fileOps, "config-secret")
	store.getenv = func(string) string { return "" }
	require.NoError(t, store.Load())
	assert.Equal(t, "file-token", store.AuthToken())

	_, err := store.UpdateDeviceID("new1")
	require.NoError(t, err)
	fileOps.AssertExpectations(t)
}

func TestSettingsStore_UpdateDeviceIDWriteFailureKeepsPrevious(t *testing.T) {
	fileOps := new(mocks.MockFileOperations)
	fileOps.On("WriteJsonFile", "settings.json", mock.Anything).Return(errors.New("disk full")).Once()

	store := NewSettingsStore("settings.json", fileOps, "")
	_, err := store.UpdateDeviceID("AB12")

	assert.EqualError(t, err, "disk full")
	assert.Equal(t, "", store.DeviceID())
}

func TestSettingsStore_UpdateDeviceIDRejectsInvalid(t *testing.T) {
	fileOps := new(mocks.MockFileOperations)
	store := NewSettingsStore("settings.json", fileOps, "")

	_, err := store.UpdateDeviceID("no!")
	assert.ErrorIs(t, err, ErrInvalidDeviceID)
	fileOps.AssertNotCalled(t, "WriteJsonFile", mock.Anything, mock.Anything)
}

func TestSettingsStore_EnvTokenWins(t *testing.T) {
	store := NewSettingsStore("settings.json", new(mocks.MockFileOperations), "file-token")
	store.getenv = func(key string) string {
		if key == AuthTokenEnv {
			return "env-token"
		}
		return ""
	}

	assert.Equal(t, "env-token", store.AuthToken())
}
