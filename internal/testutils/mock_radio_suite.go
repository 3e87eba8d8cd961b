//go:build test

package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// MockRadioSuite provides a reusable test suite backed by a FakeRadio.
//
// Basic usage (automatic setup with the default battery peripheral):
//
//	type SimpleSuite struct {
//	    testutils.MockRadioSuite
//	}
//
//	func TestSimpleSuite(t *testing.T) {
//	    suite.Run(t, new(SimpleSuite))
//	}
//
// Custom peripheral usage:
//
//	func (s *HeartRateSuite) SetupTest() {
//	    // Configure the peripheral first
//	    s.WithPeripheral("AA:BB:CC:DD:EE:FF", "HR").
//	        WithService("180D").
//	        WithCharacteristic("2A37", "read,notify", []byte{80})
//
//	    s.MockRadioSuite.SetupTest() // Call parent last to apply configuration
//	}
type MockRadioSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	// Radio is rebuilt from RadioBuilder before every test.
	Radio        *FakeRadio
	RadioBuilder *RadioBuilder
	TestTimeout  time.Duration
}

// DefaultAddress is the address of the peripheral configured when a test does not build one.
const DefaultAddress = "AA:BB:CC:DD:EE:FF"

// SetupSuite initializes the logger. Called once before all tests in the suite.
func (s *MockRadioSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 2 * time.Second
	s.Logger.Debug("Suite setup completed")
}

// SetupTest builds the fake radio. Called before each test method.
func (s *MockRadioSuite) SetupTest() {
	builder := s.RadioBuilder
	if builder == nil {
		builder = DefaultPeripheral(DefaultAddress).And()
	}
	s.Radio = builder.Build()
	s.Logger.Debug("Test setup completed - ready for execution")
}

// TearDownTest resets the radio builder after each test.
func (s *MockRadioSuite) TearDownTest() {
	s.RadioBuilder = nil
	s.Radio = nil
}

// WithPeripheral adds a peripheral to the radio built for the next test.
func (s *MockRadioSuite) WithPeripheral(address, name string) *PeripheralBuilder {
	if s.RadioBuilder == nil {
		s.RadioBuilder = NewRadioBuilder()
	}
	return s.RadioBuilder.WithPeripheral(address, name)
}

// WithRadio returns the radio builder for scan configuration.
func (s *MockRadioSuite) WithRadio() *RadioBuilder {
	if s.RadioBuilder == nil {
		s.RadioBuilder = NewRadioBuilder()
	}
	return s.RadioBuilder
}

// WaitUntil asserts that cond becomes true within the suite timeout.
func (s *MockRadioSuite) WaitUntil(cond func() bool, msgAndArgs ...interface{}) bool {
	return s.Eventually(cond, s.TestTimeout, 5*time.Millisecond, msgAndArgs...)
}
