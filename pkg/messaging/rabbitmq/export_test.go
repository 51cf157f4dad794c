package rabbitmq

// MockChannel lets the black-box tests reuse the testify Channel double.
type MockChannel = mockChannel
