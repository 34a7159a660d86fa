package satel

type panelModel struct {
	Name       string
	Partitions int
	Zones      int
	Outputs    int
}

var panelModels = map[byte]panelModel{
	0:   {Name: "INTEGRA 24", Partitions: 4, Zones: 24, Outputs: 20},
	1:   {Name: "INTEGRA 32", Partitions: 16, Zones: 32, Outputs: 32},
	2:   {Name: "INTEGRA 64", Partitions: 32, Zones: 64, Outputs: 64},
	3:   {Name: "INTEGRA 128", Partitions: 32, Zones: 128, Outputs: 128},
	4:   {Name: "INTEGRA 128-WRL SIM300", Partitions: 32, Zones: 128, Outputs: 128},
	66:  {Name: "INTEGRA 64 Plus", Partitions: 32, Zones: 64, Outputs: 64},
	67:  {Name: "INTEGRA 128 Plus", Partitions: 32, Zones: 128, Outputs: 128},
	72:  {Name: "INTEGRA 256 Plus", Partitions: 32, Zones: 256, Outputs: 256},
	132: {Name: "INTEGRA 128-WRL LEON", Partitions: 32, Zones: 128, Outputs: 128},
}

var resultDescriptions = map[byte]string{
	0x00: "OK",
	0x01: "requiring user code not found",
	0x02: "no access",
	0x03: "selected user does not exist",
	0x04: "selected user already exists",
	0x05: "wrong code or code already exists",
	0x06: "telephone code already exists",
	0x07: "changed code is the same",
	0x08: "other error",
	0x11: "cannot arm, but can use force arm",
	0x12: "cannot arm",
	0xFF: "command accepted, will be processed",
}

func resultDescription(code byte) string {
	if d, ok := resultDescriptions[code]; ok {
		return d
	}
	return "unknown result"
}
