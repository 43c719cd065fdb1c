package transport

import (
	"github.com/goccy/go-yaml"
	"golang.org/x/sys/unix"
)

type Config struct {
	// Protocol is the netlink family to bind to. Defaults to NETLINK_ROUTE.
	Protocol int `yaml:"protocol"`

	// Buffer sizes in bytes. A value of 0 keeps the kernel's default.
	ReadBuffer  int `yaml:"readBuffer"`
	WriteBuffer int `yaml:"writeBuffer"`

	// ExtendedAck asks the kernel for NLMSGERR_ATTR_MSG and friends.
	ExtendedAck bool `yaml:"extendedAck"`

	// CapAck stops the kernel from echoing the whole request back in
	// error frames.
	CapAck bool `yaml:"capAck"`

	// StrictCheck enables NETLINK_GET_STRICT_CHK so that dump filters are
	// honoured by the kernel.
	StrictCheck bool `yaml:"strictCheck"`

	// Groups are joined right after binding the socket.
	Groups []uint32 `yaml:"groups"`

	// NetNS is a file descriptor pointing to the network namespace the
	// socket should live in. 0 means the namespace of the calling thread.
	NetNS int `yaml:"-"`
}

var DefaultConfig = Config{
	Protocol:    unix.NETLINK_ROUTE,
	ReadBuffer:  0,
	WriteBuffer: 0,
	ExtendedAck: true,
	CapAck:      false,
	StrictCheck: false,
	Groups:      []uint32{},
}

func (c *Config) UnmarshalYAML(b []byte) error {
	// Needed to break recursive calls into UnmarshalYAML
	type config Config

	def := config(DefaultConfig)
	def.Groups = []uint32{}

	if err := yaml.Unmarshal(b, &def); err != nil {
		return err
	}

	*c = Config(def)

	return nil
}
