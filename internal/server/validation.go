package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/gaslessgamefi/relay/internal/metatx"
	"github.com/gaslessgamefi/relay/internal/relay"
)

const relayRequestKey = "relay.request"

var applicationIDPattern = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// txValue accepts a JSON string or number.
type txValue string

func (v *txValue) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*v = ""

		return nil
	}

	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}

		*v = txValue(s)

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}

	*v = txValue(n.String())

	return nil
}

type transactionBody struct {
	To    string  `json:"to"`
	Data  string  `json:"data"`
	Value txValue `json:"value"`
}

// relayBody is the body of relay and estimate requests. gameId and userId
// are accepted as aliases used by older SDKs.
type relayBody struct {
	Network       string           `json:"network"`
	Transaction   *transactionBody `json:"transaction"`
	ApplicationID string           `json:"applicationId"`
	GameID        string           `json:"gameId"`
	CallerID      string           `json:"callerId"`
	UserID        string           `json:"userId"`
}

func (b *relayBody) applicationID() string {
	if b.ApplicationID != "" {
		return b.ApplicationID
	}

	return b.GameID
}

func (b *relayBody) callerID() string {
	if b.CallerID != "" {
		return b.CallerID
	}

	return b.UserID
}

type relayInput struct {
	request relay.Request
	caller  relay.Caller
}

// validateRelay checks a relay body before any relay work happens and
// stores the parsed request on the context. idField names the application
// id in error messages.
func validateRelay(idField string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body relayBody
		if err := c.ShouldBindJSON(&body); err != nil {
			reject(c, "Request body must be valid JSON")

			return
		}

		appID := body.applicationID()

		if body.Network == "" || body.Transaction == nil || appID == "" {
			reject(c, "Missing required fields: network, transaction, "+idField)

			return
		}

		tx := body.Transaction

		if tx.To == "" || tx.Data == "" {
			reject(c, "Transaction must include to and data fields")

			return
		}

		if _, err := metatx.ParseAddress(tx.To); err != nil {
			reject(c, "Invalid transaction recipient address")

			return
		}

		if _, err := metatx.ParsePayload(tx.Data); err != nil {
			reject(c, "Transaction data must be a valid hex string")

			return
		}

		if _, err := metatx.ParseValue(string(tx.Value)); err != nil {
			reject(c, "Transaction value must be a non-negative integer")

			return
		}

		if !applicationIDPattern.MatchString(appID) {
			reject(c, "Invalid "+idField+" format")

			return
		}

		c.Set(relayRequestKey, relayInput{
			request: relay.Request{
				Network: body.Network,
				To:      tx.To,
				Data:    tx.Data,
				Value:   string(tx.Value),
			},
			caller: relay.Caller{
				ApplicationID: appID,
				CallerID:      body.callerID(),
			},
		})

		c.Next()
	}
}

func reject(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
}

func relayInputFrom(c *gin.Context) relayInput {
	v, _ := c.Get(relayRequestKey)
	in, _ := v.(relayInput)

	return in
}
