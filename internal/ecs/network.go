package ecs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"

	"github.com/shaiso/automata-ecs/internal/domain"
	"github.com/shaiso/automata-ecs/internal/telemetry"
)

// ErrNoNetworkInterface — у task нет ENI (не awsvpc режим).
var ErrNoNetworkInterface = errors.New("task has no network interface")

// EC2API — подмножество *ec2.Client.
type EC2API interface {
	DescribeNetworkInterfaces(ctx context.Context, in *ec2.DescribeNetworkInterfacesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeNetworkInterfacesOutput, error)
}

// DiscoverNetwork определяет подсеть и security groups по ENI task.
// Публичный IP назначается, если он есть у ENI.
func DiscoverNetwork(ctx context.Context, api EC2API, task *domain.Task) (domain.NetworkConfig, error) {
	if task.NetworkInterfaceID == "" {
		return domain.NetworkConfig{}, fmt.Errorf("task %s: %w", task.TaskARN, ErrNoNetworkInterface)
	}

	start := time.Now()
	out, err := api.DescribeNetworkInterfaces(ctx, &ec2.DescribeNetworkInterfacesInput{
		NetworkInterfaceIds: []string{task.NetworkInterfaceID},
	})
	telemetry.ObserveECSCall("DescribeNetworkInterfaces", start, err)
	if err != nil {
		return domain.NetworkConfig{}, fmt.Errorf("describe network interface %s: %w", task.NetworkInterfaceID, err)
	}
	if len(out.NetworkInterfaces) == 0 {
		return domain.NetworkConfig{}, fmt.Errorf("network interface %s: %w", task.NetworkInterfaceID, ErrNoNetworkInterface)
	}

	eni := out.NetworkInterfaces[0]
	cfg := domain.NetworkConfig{
		AssignPublicIP: eni.Association != nil && aws.ToString(eni.Association.PublicIp) != "",
	}
	if subnet := aws.ToString(eni.SubnetId); subnet != "" {
		cfg.Subnets = []string{subnet}
	}
	for _, g := range eni.Groups {
		cfg.SecurityGroups = append(cfg.SecurityGroups, aws.ToString(g.GroupId))
	}
	return cfg, nil
}
