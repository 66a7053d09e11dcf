package ecs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/automata-ecs/internal/domain"
)

// --- FetchMetadata ---

func newMetadataServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v4/abc", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Name": "launcher", "DockerId": "abc"}`))
	})
	mux.HandleFunc("GET /v4/abc/task", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"Cluster": "arn:aws:ecs:us-east-1:000000000000:cluster/default",
			"TaskARN": "arn:aws:ecs:us-east-1:000000000000:task/default/1234",
			"Family": "dagster",
			"Revision": "4"
		}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchMetadata(t *testing.T) {
	srv := newMetadataServer(t)
	t.Setenv(MetadataEnv, srv.URL+"/v4/abc")

	md, err := FetchMetadata(context.Background(), srv.Client())
	require.NoError(t, err)

	assert.Equal(t, "launcher", md.ContainerName)
	assert.Equal(t, "arn:aws:ecs:us-east-1:000000000000:cluster/default", md.Cluster)
	assert.Equal(t, "arn:aws:ecs:us-east-1:000000000000:task/default/1234", md.TaskARN)
	assert.Equal(t, "dagster", md.Family)
	assert.Equal(t, "4", md.Revision)
}

func TestFetchMetadata_BadResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	t.Setenv(MetadataEnv, srv.URL)

	_, err := FetchMetadata(context.Background(), srv.Client())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "container metadata")
}

func TestFetchMetadata_NotInECS(t *testing.T) {
	t.Setenv(MetadataEnv, "")

	_, err := FetchMetadata(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoMetadata)
}

func TestMetadataURI(t *testing.T) {
	t.Setenv(MetadataEnv, "")
	_, err := MetadataURI()
	assert.ErrorIs(t, err, ErrNoMetadata)

	t.Setenv(MetadataEnv, "http://169.254.170.2/v4/abc")
	uri, err := MetadataURI()
	require.NoError(t, err)
	assert.Equal(t, "http://169.254.170.2/v4/abc", uri)
}

// --- DiscoverNetwork ---

type mockEC2 struct {
	in  *ec2.DescribeNetworkInterfacesInput
	out *ec2.DescribeNetworkInterfacesOutput
	err error
}

func (m *mockEC2) DescribeNetworkInterfaces(_ context.Context, in *ec2.DescribeNetworkInterfacesInput, _ ...func(*ec2.Options)) (*ec2.DescribeNetworkInterfacesOutput, error) {
	m.in = in
	return m.out, m.err
}

func TestDiscoverNetwork(t *testing.T) {
	api := &mockEC2{
		out: &ec2.DescribeNetworkInterfacesOutput{
			NetworkInterfaces: []ec2types.NetworkInterface{{
				SubnetId: aws.String("subnet-1"),
				Groups: []ec2types.GroupIdentifier{
					{GroupId: aws.String("sg-1")},
					{GroupId: aws.String("sg-2")},
				},
				Association: &ec2types.NetworkInterfaceAssociation{PublicIp: aws.String("1.2.3.4")},
			}},
		},
	}

	cfg, err := DiscoverNetwork(context.Background(), api, &domain.Task{TaskARN: "arn:task/1", NetworkInterfaceID: "eni-1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"eni-1"}, api.in.NetworkInterfaceIds)
	assert.Equal(t, []string{"subnet-1"}, cfg.Subnets)
	assert.Equal(t, []string{"sg-1", "sg-2"}, cfg.SecurityGroups)
	assert.True(t, cfg.AssignPublicIP)
}

func TestDiscoverNetwork_NoInterface(t *testing.T) {
	_, err := DiscoverNetwork(context.Background(), &mockEC2{}, &domain.Task{TaskARN: "arn:task/1"})
	assert.ErrorIs(t, err, ErrNoNetworkInterface)
}

func TestDiscoverNetwork_APIError(t *testing.T) {
	api := &mockEC2{err: errors.New("denied")}

	_, err := DiscoverNetwork(context.Background(), api, &domain.Task{NetworkInterfaceID: "eni-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eni-1")
}
