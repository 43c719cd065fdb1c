package netlink

import "github.com/goccy/go-yaml"

type Config struct {
	Log bool `yaml:"log"`

	// IntakeQueue is how many submissions can be waiting for the driver.
	IntakeQueue int `yaml:"intakeQueue"`

	// InboundQueue is how many datagrams the reader can hand over before it
	// has to wait on the driver.
	InboundQueue int `yaml:"inboundQueue"`

	// InitialSequence is the first sequence number considered.
	InitialSequence uint32 `yaml:"-"`

	ErrorTable ErrorTable `yaml:"-"`
	Observer   Observer   `yaml:"-"`
}

var DefaultConfig = Config{
	Log:             false,
	IntakeQueue:     64,
	InboundQueue:    64,
	InitialSequence: 1,
}

func (c *Config) UnmarshalYAML(b []byte) error {
	// Needed to break recursive calls into UnmarshalYAML
	type config Config

	def := config(DefaultConfig)

	if err := yaml.Unmarshal(b, &def); err != nil {
		return err
	}

	*c = Config(def)

	return nil
}
