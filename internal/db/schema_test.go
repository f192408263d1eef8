package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Вставка платежа опирается на ON CONFLICT (gateway_id, gateway_payment_id)
// WHERE gateway_payment_id <> '': без совпадающего частичного уникального
// индекса Postgres отклоняет сам запрос
func TestSchemaDefinesGatewayPaymentIndex(t *testing.T) {
	var index string
	for _, stmt := range schemaStatements {
		if strings.Contains(stmt, "payments_gateway_payment_uq") {
			index = stmt
			break
		}
	}
	require.NotEmpty(t, index, "partial unique index on payments is missing from the schema")

	assert.Contains(t, index, "UNIQUE INDEX")
	assert.Contains(t, index, "(gateway_id, gateway_payment_id)")
	assert.Contains(t, index, "WHERE gateway_payment_id <> ''")
}

func TestSchemaCreatesBothTables(t *testing.T) {
	joined := strings.Join(schemaStatements, "\n")
	assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS memberships")
	assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS payments")
}
