package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"wisefido-vitals/internal/models"
)

// wireSample 设备上报格式
type wireSample struct {
	DeviceID    string          `json:"device_id"`
	Timestamp   json.RawMessage `json:"timestamp"`
	EndOfStream bool            `json:"end_of_stream"`
	models.Measurement
}

// ParseSample 解析一条设备样本
// timestamp 支持 unix 秒（整数或小数）和 RFC3339 字符串，缺省时为零值
func ParseSample(payload []byte) (*models.Sample, error) {
	var w wireSample
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedSample, err)
	}
	if w.EndOfStream {
		return nil, models.ErrFeedEnded
	}

	ts, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedSample, err)
	}
	if w.Systolic <= 0 || w.Diastolic <= 0 {
		return nil, fmt.Errorf("%w: systolic and diastolic are required", models.ErrMalformedSample)
	}

	return &models.Sample{
		DeviceID:    w.DeviceID,
		Timestamp:   ts,
		Measurement: w.Measurement,
	}, nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, nil
		}
		// 字符串形式的 unix 时间
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return unixFloat(f), nil
		}
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}

	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %s", string(raw))
	}
	return unixFloat(f), nil
}

func unixFloat(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
