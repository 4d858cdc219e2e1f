package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodeConfig(t *testing.T) {
	assert.NoError(t, NodeConfig([]byte(`{"portable":true,"node_path":"/x/node"}`)))
	assert.NoError(t, NodeConfig([]byte(`{"portable":false}`)))
	assert.Error(t, NodeConfig([]byte(`{"portable":"yes"}`)))
	assert.Error(t, NodeConfig([]byte(`{"node_path":"/x"}`)))
	assert.Error(t, NodeConfig([]byte(`not json`)))
}

func TestAppConfig(t *testing.T) {
	assert.NoError(t, AppConfig([]byte(`{}`)))
	assert.NoError(t, AppConfig([]byte(`{"auth_token":"t","email":"a@b.c"}`)))
	assert.NoError(t, AppConfig([]byte(`{"auth_token":null}`)))
	assert.Error(t, AppConfig([]byte(`{"email":42}`)))
	assert.Error(t, AppConfig([]byte(`[]`)))
}
