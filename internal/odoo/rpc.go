package odoo

import (
	"encoding/json"
	"fmt"

	"github.com/kolo/xmlrpc"
)

// RPCClient is the XML-RPC path into Odoo, used for reconciliation: after
// a sync pass it can confirm which staging records actually exist. It
// authenticates as a real Odoo user, unlike the extension-token HTTP path.
type RPCClient struct {
	URL      string
	Database string
	Username string
	Password string
	uid      int
}

// NewRPCClient creates an XML-RPC client for the given Odoo instance
func NewRPCClient(url, db, username, password string) *RPCClient {
	return &RPCClient{URL: url, Database: db, Username: username, Password: password}
}

// Authenticate resolves and caches the user id
func (c *RPCClient) Authenticate() (int, error) {
	client, err := xmlrpc.NewClient(c.URL+"/xmlrpc/2/common", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create XML-RPC client: %w", err)
	}
	defer client.Close()

	args := []interface{}{c.Database, c.Username, c.Password, make([]interface{}, 0)}
	var uid int
	if err := client.Call("authenticate", args, &uid); err != nil {
		return 0, fmt.Errorf("authentication failed: %w", err)
	}
	if uid == 0 {
		return 0, fmt.Errorf("authentication rejected for %s", c.Username)
	}
	c.uid = uid
	return uid, nil
}

// StagingRecord is the reconciliation view of one backend staging row
type StagingRecord struct {
	ID            int64   `json:"id"`
	InvoiceNumber string  `json:"invoice_number"`
	Source        string  `json:"source"`
	State         string  `json:"state"`
	AmountTotal   float64 `json:"amount_total"`
}

// FindStaging looks up staging records by invoice number. Numbers absent
// from the result were never created on the backend.
func (c *RPCClient) FindStaging(numbers []string) ([]StagingRecord, error) {
	if c.uid == 0 {
		if _, err := c.Authenticate(); err != nil {
			return nil, err
		}
	}

	client, err := xmlrpc.NewClient(c.URL+"/xmlrpc/2/object", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create XML-RPC client: %w", err)
	}
	defer client.Close()

	domain := []interface{}{
		[]interface{}{"invoice_number", "in", numbers},
	}
	args := []interface{}{
		c.Database,
		c.uid,
		c.Password,
		"einvoice.staging",
		"search_read",
		[]interface{}{domain},
		map[string]interface{}{
			"fields": []string{"invoice_number", "source", "state", "amount_total"},
		},
	}

	var raw []map[string]interface{}
	if err := client.Call("execute_kw", args, &raw); err != nil {
		return nil, fmt.Errorf("failed to execute search_read: %w", err)
	}

	// Raw maps to typed records via JSON round-trip
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw result: %w", err)
	}
	var records []StagingRecord
	if err := json.Unmarshal(jsonData, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target: %w", err)
	}
	return records, nil
}
