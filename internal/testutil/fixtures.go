// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"archive/zip"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// WriteZip writes files into a zip archive under t.TempDir and returns its
// path. Entries are written in name order.
func WriteZip(t testing.TB, name string, files map[string]string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)

	zw := zip.NewWriter(f)
	for _, n := range names {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = w.Write([]byte(files[n]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return path
}

// WriteFile writes content under t.TempDir and returns its path.
func WriteFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// SmallGTFS is a minimal valid feed: 2 routes, 5 stops (one of them a
// parent station), 1 trip and 3 stop_times.
func SmallGTFS() map[string]string {
	return map[string]string{
		"agency.txt": "agency_id,agency_name,agency_url,agency_timezone\n" +
			"A,Rodalies,https://example.com,Europe/Madrid\n",
		"routes.txt": "route_id,agency_id,route_short_name,route_long_name,route_type\n" +
			"R1,A,R1,Molins - Maçanet,2\n" +
			"B1,A,B1,Bus line,3\n",
		"stops.txt": "stop_id,stop_name,stop_lat,stop_lon,location_type,parent_station\n" +
			"P1,Sants,41.3791,2.1402,1,\n" +
			"S1,Sants Andana 1,41.3790,2.1400,0,P1\n" +
			"S2,Passeig de Gracia,41.3917,2.1649,0,\n" +
			"S3,Clot,41.4087,2.1873,0,\n" +
			"S4,Sant Andreu,41.4360,2.1900,0,\n",
		"trips.txt": "route_id,service_id,trip_id,trip_headsign,direction_id,shape_id\n" +
			"R1,WD,T1,Maçanet,0,SH1\n",
		"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"T1,8:00:00,8:00:30,S1,1\n" +
			"T1,08:05:00,08:05:30,S2,2\n" +
			"T1,08:10:00,08:10:00,S3,3\n",
		"shapes.txt": "shape_id,shape_pt_lat,shape_pt_lon,shape_pt_sequence\n" +
			"SH1,41.3790,2.1400,1\n" +
			"SH1,41.3917,2.1649,2\n" +
			"SH1,41.4087,2.1873,3\n",
	}
}
