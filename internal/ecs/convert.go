package ecs

import (
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"github.com/shaiso/automata-ecs/internal/domain"
)

// Детали ENI в attachments задачи.
const (
	attachmentTypeENI    = "ElasticNetworkInterface"
	detailNetworkIfaceID = "networkInterfaceId"
	detailSubnetID       = "subnetId"
)

func toContainerDefinitions(specs []domain.ContainerSpec) []ecstypes.ContainerDefinition {
	defs := make([]ecstypes.ContainerDefinition, 0, len(specs))
	for _, s := range specs {
		defs = append(defs, ecstypes.ContainerDefinition{
			Name:        aws.String(s.Name),
			Image:       aws.String(s.Image),
			Environment: toKeyValuePairs(s.Environment),
			Command:     s.Command,
			Essential:   aws.Bool(true),
		})
	}
	return defs
}

func fromTaskDefinition(td *ecstypes.TaskDefinition) *domain.TaskDefinition {
	def := &domain.TaskDefinition{
		ARN:              aws.ToString(td.TaskDefinitionArn),
		Family:           aws.ToString(td.Family),
		Revision:         int(td.Revision),
		NetworkMode:      string(td.NetworkMode),
		CPU:              aws.ToString(td.Cpu),
		Memory:           aws.ToString(td.Memory),
		ExecutionRoleARN: aws.ToString(td.ExecutionRoleArn),
		TaskRoleARN:      aws.ToString(td.TaskRoleArn),
	}
	for _, compat := range td.RequiresCompatibilities {
		def.RequiresCompatibilities = append(def.RequiresCompatibilities, string(compat))
	}
	for _, cd := range td.ContainerDefinitions {
		def.Containers = append(def.Containers, domain.ContainerSpec{
			Name:        aws.ToString(cd.Name),
			Image:       aws.ToString(cd.Image),
			Environment: fromKeyValuePairs(cd.Environment),
			Command:     cd.Command,
		})
	}
	return def
}

// toKeyValuePairs сохраняет порядок переменных.
func toKeyValuePairs(env []domain.EnvVar) []ecstypes.KeyValuePair {
	if len(env) == 0 {
		return nil
	}
	pairs := make([]ecstypes.KeyValuePair, 0, len(env))
	for _, e := range env {
		pairs = append(pairs, ecstypes.KeyValuePair{Name: aws.String(e.Name), Value: aws.String(e.Value)})
	}
	return pairs
}

func fromKeyValuePairs(pairs []ecstypes.KeyValuePair) []domain.EnvVar {
	if len(pairs) == 0 {
		return nil
	}
	env := make([]domain.EnvVar, 0, len(pairs))
	for _, p := range pairs {
		env = append(env, domain.EnvVar{Name: aws.ToString(p.Name), Value: aws.ToString(p.Value)})
	}
	return env
}

func toContainerOverrides(overrides []domain.ContainerOverride) []ecstypes.ContainerOverride {
	out := make([]ecstypes.ContainerOverride, 0, len(overrides))
	for _, o := range overrides {
		out = append(out, ecstypes.ContainerOverride{
			Name:    aws.String(o.Name),
			Command: o.Command,
		})
	}
	return out
}

func toNetworkConfiguration(n domain.NetworkConfig) *ecstypes.NetworkConfiguration {
	assign := ecstypes.AssignPublicIpDisabled
	if n.AssignPublicIP {
		assign = ecstypes.AssignPublicIpEnabled
	}
	return &ecstypes.NetworkConfiguration{
		AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
			Subnets:        n.Subnets,
			SecurityGroups: n.SecurityGroups,
			AssignPublicIp: assign,
		},
	}
}

func toTags(tags map[string]string) []ecstypes.Tag {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]ecstypes.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, ecstypes.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}

func fromTags(tags []ecstypes.Tag) map[string]string {
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		out[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return out
}

func fromTask(t ecstypes.Task) *domain.Task {
	task := &domain.Task{
		TaskARN:           aws.ToString(t.TaskArn),
		ClusterARN:        aws.ToString(t.ClusterArn),
		TaskDefinitionARN: aws.ToString(t.TaskDefinitionArn),
		LastStatus:        domain.TaskStatus(aws.ToString(t.LastStatus)),
		DesiredStatus:     domain.TaskStatus(aws.ToString(t.DesiredStatus)),
		StoppedReason:     aws.ToString(t.StoppedReason),
		Tags:              fromTags(t.Tags),
	}

	for _, a := range t.Attachments {
		if aws.ToString(a.Type) != attachmentTypeENI {
			continue
		}
		for _, d := range a.Details {
			switch aws.ToString(d.Name) {
			case detailNetworkIfaceID:
				task.NetworkInterfaceID = aws.ToString(d.Value)
			case detailSubnetID:
				task.Network.Subnets = append(task.Network.Subnets, aws.ToString(d.Value))
			}
		}
	}

	if t.Overrides != nil {
		for _, o := range t.Overrides.ContainerOverrides {
			task.Overrides = append(task.Overrides, domain.ContainerOverride{
				Name:    aws.ToString(o.Name),
				Command: o.Command,
			})
		}
	}

	for _, c := range t.Containers {
		state := domain.ContainerState{
			Name:       aws.ToString(c.Name),
			LastStatus: aws.ToString(c.LastStatus),
			Reason:     aws.ToString(c.Reason),
		}
		if c.ExitCode != nil {
			code := int(*c.ExitCode)
			state.ExitCode = &code
		}
		task.Containers = append(task.Containers, state)
	}

	return task
}

// optionalString возвращает nil для пустой строки.
func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
