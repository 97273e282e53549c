// Package influxdb records miio bridge telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health checks. The client
// implements device.Recorder, producing one miio_invocation point per
// device method call:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//	invoker.SetRecorder(client)
//
// Points are tagged by device_id, device_type, method and outcome, where
// outcome is "succeeded", "timeout", "cancelled" or the name of the
// device error kind (for example "bridge_error").
//
// Write failures are delivered asynchronously to the SetOnError callback.
// Batching follows the batch_size and flush_interval settings.
package influxdb
