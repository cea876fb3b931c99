// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package monitoring

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/soothill/currentcost-logger/pkg/errors"
)

// messageTag is the root element of a real-time telemetry telegram
const messageTag = "msg"

// Telegram is the decoded form of one CurrentCost message, e.g.
//
//	<msg><src>CC128-v1.48</src><dsb>00789</dsb><time>22:20:42</time>
//	<tmpr>22.7</tmpr><sensor>0</sensor><id>02872</id><type>1</type>
//	<ch1><watts>00500</watts></ch1></msg>
type Telegram struct {
	XMLName        xml.Name
	Src            string   `xml:"src"`
	DaysSinceBirth string   `xml:"dsb"`
	Time           string   `xml:"time"`
	Temperature    string   `xml:"tmpr"`
	TemperatureF   string   `xml:"tmprF"`
	Sensor         string   `xml:"sensor"`
	ID             string   `xml:"id"`
	Type           string   `xml:"type"`
	Ch1            *Channel `xml:"ch1"`
	Hist           *History `xml:"hist"`
}

// Channel holds a single clamp's reading
type Channel struct {
	Watts *string `xml:"watts"`
}

// History is a historical data dump. Its content is not interpreted.
type History struct {
	Inner string `xml:",innerxml"`
}

// IsRealtime reports whether the telegram is a live power message
func (t *Telegram) IsRealtime() bool {
	return t.XMLName.Local == messageTag && t.Hist == nil
}

// TemperatureCelsius returns the reported temperature, converting from
// Fahrenheit on models that send tmprF.
func (t *Telegram) TemperatureCelsius() (float64, bool) {
	if t.Temperature != "" {
		v, err := strconv.ParseFloat(strings.TrimSpace(t.Temperature), 64)
		return v, err == nil
	}
	if t.TemperatureF != "" {
		v, err := strconv.ParseFloat(strings.TrimSpace(t.TemperatureF), 64)
		return (v - 32) * 5 / 9, err == nil
	}
	return 0, false
}

// Watts returns the ch1 wattage. ok is false when the telegram carries no
// power reading.
func (t *Telegram) Watts() (watts int, ok bool, err error) {
	if !t.IsRealtime() || t.Ch1 == nil || t.Ch1.Watts == nil {
		return 0, false, nil
	}

	raw := strings.TrimSpace(*t.Ch1.Watts)
	watts, err = strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("watts %q: %w", raw, err)
	}
	if watts < 0 {
		return 0, false, fmt.Errorf("watts %d is negative", watts)
	}
	return watts, true, nil
}

// ParseTelegram decodes one raw line. An empty line means the device read
// timed out and yields errors.ErrDeviceTimeout.
func ParseTelegram(line string) (*Telegram, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, errors.ErrDeviceTimeout
	}

	var t Telegram
	if err := decodeDocument(trimmed, &t); err != nil {
		return nil, errors.NewTelegramError(trimmed, err)
	}
	return &t, nil
}

// decodeDocument decodes doc into v, requiring doc to be exactly one XML
// document. Only whitespace, comments and processing instructions may
// surround the root element; xml.Unmarshal would silently skip text before
// it and ignore everything after it.
func decodeDocument(doc string, v interface{}) error {
	d := xml.NewDecoder(strings.NewReader(doc))

	for {
		tok, err := d.Token()
		if err == io.EOF {
			return fmt.Errorf("no root element")
		}
		if err != nil {
			return err
		}

		switch tok := tok.(type) {
		case xml.StartElement:
			if err := d.DecodeElement(v, &tok); err != nil {
				return err
			}
			return expectDocumentEnd(d)
		case xml.CharData:
			if len(bytes.TrimSpace(tok)) > 0 {
				return fmt.Errorf("unexpected text %q before root element", string(tok))
			}
		case xml.Comment, xml.ProcInst:
		default:
			return fmt.Errorf("unexpected %T before root element", tok)
		}
	}
}

func expectDocumentEnd(d *xml.Decoder) error {
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch tok := tok.(type) {
		case xml.CharData:
			if len(bytes.TrimSpace(tok)) > 0 {
				return fmt.Errorf("unexpected text %q after root element", string(tok))
			}
		case xml.Comment, xml.ProcInst:
		case xml.StartElement:
			return fmt.Errorf("unexpected element <%s> after root element", tok.Name.Local)
		default:
			return fmt.Errorf("unexpected %T after root element", tok)
		}
	}
}

// ParseWatts extracts the wattage from one raw line.
//
//   - ok is true and watts is set for a live power message;
//   - ok is false and err is nil for history dumps and other messages
//     without a ch1 wattage;
//   - err is errors.ErrDeviceTimeout for an empty line and a
//     *errors.TelegramError for content that cannot be parsed. Both are fatal.
func ParseWatts(line string) (watts int, ok bool, err error) {
	_, watts, ok, err = Decode(line)
	return watts, ok, err
}

// Decode is ParseWatts that also returns the decoded telegram, so callers
// can read the temperature and source fields. The telegram is nil whenever
// err is set.
func Decode(line string) (t *Telegram, watts int, ok bool, err error) {
	t, err = ParseTelegram(line)
	if err != nil {
		return nil, 0, false, err
	}

	watts, ok, err = t.Watts()
	if err != nil {
		return nil, 0, false, errors.NewTelegramError(strings.TrimSpace(line), err)
	}
	return t, watts, ok, nil
}
