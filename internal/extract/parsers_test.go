package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HerbHall/sitecheck/pkg/models"
)

func TestParseVLANs(t *testing.T) {
	ios := `VLAN Name                             Status    Ports
---- -------------------------------- --------- -------------------------------
1    default                          active    Gi1/0/1, Gi1/0/2
20   VOICE                            active    Gi1/0/3
10   STAFF                            active
                                                Gi1/0/24
1002 fddi-default                     act/unsup
1003 token-ring-default               act/unsup
`
	assert.Equal(t, []int{1, 10, 20}, ParseVLANs(ios))

	smb := `Vlan       Name           Tagged Ports      UnTagged Ports      Created by
---- ----------------- ------------------ ------------------ ----------------
 1           1                                 gi1-52,Po1-8          DV
 30        Cameras        gi49                                          S
 30        Cameras        gi50                                          S
`
	assert.Equal(t, []int{1, 30}, ParseVLANs(smb))
	assert.Empty(t, ParseVLANs(""))
}

func TestParsePortErrors_InterfaceBlocks(t *testing.T) {
	text := `GigabitEthernet1/0/1 is up, line protocol is up (connected)
  Hardware is Gigabit Ethernet, address is 0011.2233.4401 (bia 0011.2233.4401)
     0 input errors, 0 CRC, 0 frame, 0 overrun, 0 ignored
GigabitEthernet1/0/2 is up, line protocol is up (connected)
     12 input errors, 9 CRC, 0 frame, 0 overrun, 0 ignored
GigabitEthernet1/0/3 is down, line protocol is down (notconnect)
     4 input errors, 0 CRC, 0 frame, 0 overrun, 0 ignored
`
	got := ParsePortErrors(text)
	require.Len(t, got, 2)
	assert.Equal(t, models.PortError{Interface: "GigabitEthernet1/0/2", CRC: 9, InputErrors: 12}, got[0])
	assert.Equal(t, models.PortError{Interface: "GigabitEthernet1/0/3", CRC: 0, InputErrors: 4}, got[1])
}

func TestParsePortErrors_CounterTable(t *testing.T) {
	text := `Port        Align-Err     FCS-Err    Xmit-Err     Rcv-Err  UnderSize  OutDiscards
Gi1/0/1             0           0           0           0          0            0
Gi1/0/2             0          17           0           2          0            0
gi3                 1           0           0           5          0            0
`
	got := ParsePortErrors(text)
	require.Len(t, got, 2)
	assert.Equal(t, "Gi1/0/2", got[0].Interface)
	assert.Equal(t, int64(17), got[0].CRC)
	assert.Equal(t, int64(2), got[0].InputErrors)
	assert.Equal(t, "gi3", got[1].Interface)
	assert.Equal(t, int64(5), got[1].InputErrors)
}

func TestParsePortErrors_CollisionTableIgnored(t *testing.T) {
	text := `
Port        Align-Err     FCS-Err    Xmit-Err     Rcv-Err  UnderSize  OutDiscards
Gi1/0/1             0           0           0           0          0            0
Gi1/0/2             0           4           0           0          0            0

Port      Single-Col  Multi-Col   Late-Col  Excess-Col  Carri-Sen      Runts     Giants
Gi1/0/1            2          7          0           3          0          0          0
Gi1/0/2            0          0          0           0          0          0          0
`
	got := ParsePortErrors(text)
	require.Len(t, got, 1)
	assert.Equal(t, models.PortError{Interface: "Gi1/0/2", CRC: 4}, got[0])
}

func TestParsePortErrors_ColumnsFollowHeader(t *testing.T) {
	text := `Port      Rcv-Err  FCS-Err
Gi1/0/7        9        1
`
	got := ParsePortErrors(text)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].CRC)
	assert.Equal(t, int64(9), got[0].InputErrors)
}

func TestParsePoE(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		used      float64
		available float64
		wantErr   bool
	}{
		{
			name: "module table",
			text: "Module   Available     Used     Remaining\n          (Watts)     (Watts)    (Watts)\n------   ---------   --------   ---------\n1           370.0      123.5       246.5\n",
			used: 123.5, available: 370.0,
		},
		{
			name: "nominal and consumed",
			text: "Unit  Power  Nominal Power: 195 Watts\nConsumed Power: 40 Watts (20%)\n",
			used: 40, available: 195,
		},
		{
			name: "unit table",
			text: "Unit Module    Power Nominal Power Consumed Power Usage Threshold Traps\n---- --------- ----- ------------- -------------- --------------- -------\n1    SG350-28P On    195 Watts     12 Watts (6%)  95              Disable\n",
			used: 12, available: 195,
		},
		{
			name:    "no poe",
			text:    "% Invalid input detected at '^' marker.",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			used, avail, err := ParsePoE(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.used, used, 0.001)
			assert.InDelta(t, tt.available, avail, 0.001)
		})
	}
}

func TestPoEUtilization(t *testing.T) {
	st := PoEUtilization(40, 80)
	assert.Equal(t, "50.0%", st.Status)
	assert.InDelta(t, 50.0, st.Utilization, 0.001)

	st = PoEUtilization(12, 0)
	assert.Equal(t, models.NoPoEPower, st.Status)
	assert.Zero(t, st.Utilization)
}

func TestWANAddresses(t *testing.T) {
	text := `Interface              IP-Address      OK? Method Status                Protocol
GigabitEthernet0/0     203.0.113.10    YES DHCP   up                    up
GigabitEthernet0/1     192.168.1.1     YES NVRAM  up                    up
GigabitEthernet0/2     unassigned      YES unset  administratively down down
Loopback0              127.0.0.1       YES NVRAM  up                    up
Dialer1                0.0.0.0         YES IPCP   up                    up
Tunnel0                203.0.113.10    YES NVRAM  up                    up
`
	assert.Equal(t, []string{"203.0.113.10", "192.168.1.1"}, WANAddresses(text))
	assert.Empty(t, WANAddresses("no addresses"))
}

func TestBurnedInMAC(t *testing.T) {
	mac, ok := BurnedInMAC("  Hardware is iGbE, address is 0011.2233.4455 (bia 0011.2233.4466)")
	require.True(t, ok)
	assert.Equal(t, "00:11:22:33:44:66", mac)

	mac, ok = BurnedInMAC("Internet  192.168.1.1  -  aabb.ccdd.eeff  ARPA  GigabitEthernet0/1")
	require.True(t, ok)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", mac)

	_, ok = BurnedInMAC("% Invalid input")
	assert.False(t, ok)
}

func TestParseCresnet(t *testing.T) {
	text := "Cresnet Devices:\n03 : C2N-DB8\n1A : TSW-760\n"
	assert.Equal(t, []string{"Cresnet ID 03: C2N-DB8", "Cresnet ID 1A: TSW-760"}, ParseCresnet(text))
}

func TestParseAutoDiscovery(t *testing.T) {
	text := `IP Address      : Type : Hostname : Model
10.20.30.100 : C : NAX-01 : DM-NAX-8ZSA [v3.1.2.5 (Mar 1 2024), #ABC] @E-c442684a1b2c
10.20.30.101 : C : TSW-Lobby : TSW-1070 [v3.002.1061]
garbage line
`
	assert.Equal(t, []string{"NAX-01 (DM-NAX-8ZSA)", "TSW-Lobby (TSW-1070)"}, ParseAutoDiscovery(text))
}
