// Package device derives the synthetic handset identity presented to the
// gateway. Every field is a pure function of the account number, so an
// account always shows up as the same device without persisted state.
package device

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Version mirrors the Android build version fields.
type Version struct {
	Incremental string
	Release     string
	Codename    string
	SDK         uint32
}

// Device is the immutable identity for one account.
type Device struct {
	Display     string
	Product     string
	Device      string
	Board       string
	Brand       string
	Model       string
	Bootloader  string
	Fingerprint string
	BootID      string
	ProcVersion string
	Baseband    string
	SIM         string
	OSType      string
	MACAddress  string
	IPAddress   string
	WifiBSSID   string
	WifiSSID    string
	IMEI        string
	AndroidID   string
	APN         string
	Version     Version
	IMSI        []byte
	GUID        [16]byte
}

// bootNamespace scopes the boot id UUIDs to this client.
var bootNamespace = uuid.NewMD5(uuid.NameSpaceDNS, []byte("msfcore.device"))

// New derives the device for uin.
func New(uin uint32) *Device {
	uinStr := strconv.FormatUint(uint64(uin), 10)
	hash := md5.Sum([]byte(uinStr))

	androidID := fmt.Sprintf("MSF.%d%d.%d%c", binary.BigEndian.Uint16(hash[0:]), hash[2], hash[3], uinStr[0])
	incremental := strconv.FormatUint(uint64(binary.BigEndian.Uint32(hash[12:])), 10)
	mac := fmt.Sprintf("00:50:%02X:%02X:%02X:%02X", hash[6], hash[7], hash[8], hash[9])
	imei := IMEI(uin)
	imsi := md5.Sum(hash[:])

	d := &Device{
		Display:     androidID,
		Product:     "MSFCORE",
		Device:      "MSF1",
		Board:       "MSF-BOARD",
		Brand:       "MSF",
		Model:       "MSF Core 1",
		Bootloader:  "U-boot",
		BootID:      uuid.NewMD5(bootNamespace, []byte(uinStr)).String(),
		ProcVersion: fmt.Sprintf("Linux version 4.19.71-%d (build@msfcore)", binary.BigEndian.Uint16(hash[4:])),
		Baseband:    "",
		SIM:         "T-Mobile",
		OSType:      "android",
		MACAddress:  mac,
		IPAddress:   fmt.Sprintf("10.0.%d.%d", hash[10], hash[11]),
		WifiBSSID:   mac,
		WifiSSID:    fmt.Sprintf("TP-LINK-%x", uin),
		IMEI:        imei,
		AndroidID:   androidID,
		APN:         "wifi",
		Version: Version{
			Incremental: incremental,
			Release:     "10",
			Codename:    "REL",
			SDK:         29,
		},
		IMSI: imsi[:],
		GUID: md5.Sum([]byte(imei + mac)),
	}
	d.Fingerprint = fmt.Sprintf("%s/%s/%s:10/%s/%s:user/release-keys", d.Brand, d.Product, d.Device, androidID, incremental)
	return d
}

// IMEI builds a 15 digit identifier with a Luhn check digit.
func IMEI(uin uint32) string {
	prefix := "35"
	if uin%2 == 1 {
		prefix = "86"
	}
	uinStr := strconv.FormatUint(uint64(uin), 10) + "0000000"

	a := uint32(uin >> 16)
	switch {
	case a > 9999:
		a /= 10
	case a < 1000:
		v, _ := strconv.ParseUint(uinStr[:4], 10, 32)
		a = uint32(v)
	}
	b := uin & 0xFFFFFF
	for b > 9999999 {
		b >>= 1
	}
	if b < 1000000 {
		v, _ := strconv.ParseUint(uinStr[:7], 10, 32)
		b = uint32(v)
	}
	body := fmt.Sprintf("%s%04d0%07d", prefix, a, b)
	return body + strconv.Itoa(luhn(body))
}

func luhn(digits string) int {
	sum := 0
	for i := 0; i < len(digits); i++ {
		d := int(digits[i] - '0')
		if i%2 == 1 {
			d *= 2
			d = d%10 + d/10
		}
		sum += d
	}
	return (10 - sum%10) % 10
}
