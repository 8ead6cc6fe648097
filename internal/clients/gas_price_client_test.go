package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGasPriceClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api", func(c *gin.Context) {
		switch c.Query("apikey") {
		case "bad":
			c.JSON(http.StatusOK, gin.H{"status": "0", "message": "NOTOK"})
		default:
			c.JSON(http.StatusOK, gin.H{"status": "1", "message": "OK", "result": gin.H{
				"SafeGasPrice": "10", "ProposeGasPrice": "12.5", "FastGasPrice": "15",
			}})
		}
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	price, err := NewGasPriceClient(srv.URL + "/api?module=gastracker&action=gasoracle").GasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "12500000000", price.String())

	_, err = NewGasPriceClient(srv.URL + "/api?apikey=bad").GasPrice(context.Background())
	assert.ErrorContains(t, err, "NOTOK")

	_, err = NewGasPriceClient(srv.URL + "/missing").GasPrice(context.Background())
	assert.Error(t, err)
}

func TestGweiToWei(t *testing.T) {
	wei, err := GweiToWei("1")
	require.NoError(t, err)
	assert.Equal(t, "1000000000", wei.String())

	wei, err = GweiToWei("0.0000000015")
	require.NoError(t, err)
	assert.Equal(t, "1", wei.String())

	for _, bad := range []string{"", "abc", "0", "-3"} {
		_, err := GweiToWei(bad)
		assert.Error(t, err, bad)
	}
}
