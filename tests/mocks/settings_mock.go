package mocks

import "github.com/stretchr/testify/mock"

// MockSettingsStore is a mock implementation of the SettingsStoreInterface
type MockSettingsStore struct {
	mock.Mock
}

func (m *MockSettingsStore) Load() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockSettingsStore) UpdateDeviceID(deviceID string) (string, error) {
	args := m.Called(deviceID)
	return args.String(0), args.Error(1)
}

func (m *MockSettingsStore) DeviceID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockSettingsStore) AuthToken() string {
	args := m.Called()
	return args.String(0)
}
