package ingest

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLocation(t *testing.T) {
	d, err := DecodeLocation(kafka.Message{Key: []byte("d1"), Value: []byte(`{"lat":13.75,"lng":100.5,"online":true}`)})
	require.NoError(t, err)
	assert.Equal(t, "d1", d.DriverID, "key fills a missing driver id")
	assert.True(t, d.Online)

	_, err = DecodeLocation(kafka.Message{Value: []byte(`{`)})
	assert.Error(t, err)
}

var _ Publisher = (*KafkaProducer)(nil)
var _ Publisher = Nop{}
