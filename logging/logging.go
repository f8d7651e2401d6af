package logging

import (
	"encoding/json"
	"log"
	"time"
)

const Service = "pos-inventory"

type Fields struct {
	OrderID     int64  `json:"order_id,omitempty"`
	OrderNumber string `json:"order_number,omitempty"`
	StaffID     int64  `json:"staff_id,omitempty"`
	Step        string `json:"step,omitempty"`
	Status      string `json:"status,omitempty"`
	DurationMS  int64  `json:"duration_ms,omitempty"`
	Message     string `json:"message,omitempty"`
}

type entry struct {
	Service string `json:"service"`
	Fields
	Timestamp string `json:"timestamp"`
}

// Log writes fields as a single JSON line through the standard logger.
func Log(fields Fields) {
	data, err := json.Marshal(entry{
		Service:   Service,
		Fields:    fields,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		log.Printf("{\"service\":%q,\"status\":\"log_error\",\"error\":%q}", Service, err.Error())
		return
	}
	log.Print(string(data))
}
